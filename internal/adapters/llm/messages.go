package llm

import (
	"context"
	"net/http"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const anthropicVersion = "2023-06-01"

// MessagesClient talks the Anthropic Messages format, as served by the
// Lynkr proxy and compatible gateways.
type MessagesClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewMessagesClient(settings domain.ProviderSettings) *MessagesClient {
	return &MessagesClient{
		client:  newHTTPClient(settings.Timeout),
		baseURL: trimBase(settings.BaseURL, "/v1"),
		apiKey:  settings.APIKey,
		model:   settings.Model,
	}
}

type messagesRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	System      string            `json:"system,omitempty"`
	Messages    []messagesMessage `json:"messages"`
	Tools       []messagesTool    `json:"tools,omitempty"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string                 `json:"type"`
		Text  string                 `json:"text,omitempty"`
		ID    string                 `json:"id,omitempty"`
		Name  string                 `json:"name,omitempty"`
		Input map[string]interface{} `json:"input,omitempty"`
	} `json:"content"`
}

func (c *MessagesClient) headers() map[string]string {
	h := map[string]string{"anthropic-version": anthropicVersion}
	if c.apiKey != "" {
		h["x-api-key"] = c.apiKey
	}
	return h
}

func (c *MessagesClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := messagesRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    make([]messagesMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, messagesMessage{Role: wireRole(m.Role), Content: wireContent(m)})
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, messagesTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
		})
	}

	var out messagesResponse
	if err := postJSON(ctx, c.client, string(domain.ProviderMessages), c.baseURL+"/v1/messages", c.headers(), payload, &out); err != nil {
		return domain.ChatResponse{}, err
	}

	resp := domain.ChatResponse{Model: out.Model, StopReason: messagesStopReason(out.StopReason)}
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Text = append(resp.Text, block.Text)
			}
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCallRequest{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return resp, nil
}

// Health probes GET /health on the proxy.
func (c *MessagesClient) Health(ctx context.Context) error {
	return probe(ctx, c.client, string(domain.ProviderMessages), c.baseURL+"/health", c.headers())
}

func messagesStopReason(raw string) domain.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return domain.StopEndTurn
	case "tool_use":
		return domain.StopToolUse
	case "max_tokens":
		return domain.StopMaxTokens
	default:
		return domain.StopOther
	}
}
