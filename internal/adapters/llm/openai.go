package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API.
// Works with: OpenAI, Azure OpenAI, Together AI, local Ollama /v1, etc.
type OpenAIClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIClient(settings domain.ProviderSettings) *OpenAIClient {
	return &OpenAIClient{
		client:  newHTTPClient(settings.Timeout),
		baseURL: trimBase(settings.BaseURL, ""),
		apiKey:  settings.APIKey,
		model:   settings.Model,
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) headers() map[string]string {
	h := map[string]string{}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

func (c *OpenAIClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := openAIRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: wireRole(m.Role), Content: wireContent(m)})
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: schemaMap(t.InputSchema)},
		})
	}

	provider := string(domain.ProviderOpenAI)
	var out openAIResponse
	if err := postJSON(ctx, c.client, provider, c.baseURL+"/chat/completions", c.headers(), payload, &out); err != nil {
		return domain.ChatResponse{}, err
	}
	if len(out.Choices) == 0 {
		return domain.ChatResponse{}, &domain.ProviderError{Provider: provider, Message: "no choices in response"}
	}

	choice := out.Choices[0]
	resp := domain.ChatResponse{Model: out.Model}
	if choice.Message.Content != "" {
		resp.Text = []string{choice.Message.Content}
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}

	switch {
	case len(resp.ToolCalls) > 0 || choice.FinishReason == "tool_calls":
		resp.StopReason = domain.StopToolUse
	case choice.FinishReason == "stop":
		resp.StopReason = domain.StopEndTurn
	case choice.FinishReason == "length":
		resp.StopReason = domain.StopMaxTokens
	default:
		resp.StopReason = domain.StopOther
	}
	return resp, nil
}

// Health lists models, which every compatible server implements.
func (c *OpenAIClient) Health(ctx context.Context) error {
	return probe(ctx, c.client, string(domain.ProviderOpenAI), c.baseURL+"/models", c.headers())
}

// decodeArguments tolerates malformed argument JSON; the tool then reports
// the missing parameters back to the model.
func decodeArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}
