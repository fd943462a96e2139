package llm

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient uses Ollama's native /api/chat with tool support.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaClient(settings domain.ProviderSettings) *OllamaClient {
	baseURL := trimBase(settings.BaseURL, "/v1")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   settings.Model,
		client:  newHTTPClient(settings.Timeout),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model      string `json:"model"`
	DoneReason string `json:"done_reason"`
	Message    struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
}

func (p *OllamaClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = p.model
	}
	payload := ollamaChatRequest{
		Model:  model,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		payload.Options["num_predict"] = req.MaxTokens
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: wireRole(m.Role), Content: wireContent(m)})
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: schemaMap(t.InputSchema)},
		})
	}

	var out ollamaChatResponse
	if err := postJSON(ctx, p.client, string(domain.ProviderOllama), p.baseURL+"/api/chat", nil, payload, &out); err != nil {
		return domain.ChatResponse{}, err
	}

	resp := domain.ChatResponse{Model: out.Model}
	if out.Message.Content != "" {
		resp.Text = []string{out.Message.Content}
	}
	// Ollama does not id its tool calls.
	for _, tc := range out.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCallRequest{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	switch {
	case len(resp.ToolCalls) > 0:
		resp.StopReason = domain.StopToolUse
	case out.DoneReason == "length":
		resp.StopReason = domain.StopMaxTokens
	case out.DoneReason == "stop" || out.DoneReason == "":
		resp.StopReason = domain.StopEndTurn
	default:
		resp.StopReason = domain.StopOther
	}
	return resp, nil
}

// Health lists local models via /api/tags.
func (p *OllamaClient) Health(ctx context.Context) error {
	return probe(ctx, p.client, string(domain.ProviderOllama), p.baseURL+"/api/tags", nil)
}
