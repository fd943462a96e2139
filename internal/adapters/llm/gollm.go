package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// GollmClient reaches hosted vendors (openai, anthropic, groq, mistral...)
// through gollm. gollm returns plain text, so tool calls are requested as a
// JSON object the model emits in its answer.
//
// A gollm.LLM carries its model as mutable config, so the client keeps one
// instance per model and never reconfigures a shared one.
type GollmClient struct {
	vendor string
	model  string
	build  func(model string) (gollm.LLM, error)

	mu      sync.Mutex
	byModel map[string]gollm.LLM
}

func NewGollmClient(settings domain.ProviderSettings, maxTokens int, temperature float64) (*GollmClient, error) {
	if maxTokens <= 0 {
		maxTokens = domain.DefaultMaxTokens
	}
	build := func(model string) (gollm.LLM, error) {
		opts := []gollm.ConfigOption{
			gollm.SetProvider(settings.Vendor),
			gollm.SetMaxTokens(maxTokens),
			gollm.SetTemperature(temperature),
			gollm.SetMaxRetries(0), // a failed call fails the run
			gollm.SetLogLevel(gollm.LogLevelWarn),
		}
		if model != "" {
			opts = append(opts, gollm.SetModel(model))
		}
		if settings.APIKey != "" {
			opts = append(opts, gollm.SetAPIKey(settings.APIKey))
		}
		l, err := gollm.NewLLM(opts...)
		if err != nil {
			return nil, fmt.Errorf("create gollm client for %s: %w", settings.Vendor, err)
		}
		return l, nil
	}

	c := newGollmClient(settings.Vendor, settings.Model, build)
	if _, err := c.llmFor(settings.Model); err != nil {
		return nil, err
	}
	return c, nil
}

func newGollmClient(vendor, model string, build func(string) (gollm.LLM, error)) *GollmClient {
	return &GollmClient{vendor: vendor, model: model, build: build, byModel: map[string]gollm.LLM{}}
}

// llmFor returns the instance configured for model, building it once.
func (c *GollmClient) llmFor(model string) (gollm.LLM, error) {
	if model == "" {
		model = c.model
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.byModel[model]; ok {
		return l, nil
	}
	l, err := c.build(model)
	if err != nil {
		return nil, err
	}
	c.byModel[model] = l
	return l, nil
}

func (c *GollmClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	l, err := c.llmFor(req.Model)
	if err != nil {
		return domain.ChatResponse{}, &domain.ProviderError{Provider: "cloud:" + c.vendor, Message: "configure model", Cause: err}
	}
	text, err := l.Generate(ctx, gollmPrompt(req))
	if err != nil {
		return domain.ChatResponse{}, &domain.ProviderError{Provider: "cloud:" + c.vendor, Message: "generate", Cause: err}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	resp := domain.ChatResponse{Model: model, StopReason: domain.StopEndTurn}
	remaining, calls := extractToolCalls(text)
	if remaining != "" {
		resp.Text = []string{remaining}
	}
	if len(calls) > 0 {
		resp.ToolCalls = calls
		resp.StopReason = domain.StopToolUse
	}
	return resp, nil
}

const gollmToolInstructions = `To call tools, answer with a JSON object on its own line:
{"tool_calls": [{"name": "<tool name>", "arguments": {...}}]}
Answer in plain text, without that object, when the task is complete.`

// gollmPrompt flattens the conversation into one prompt with the system
// text and tool list attached as prompt options.
func gollmPrompt(req domain.ChatRequest) *gollm.Prompt {
	var b strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if m.Role == domain.RoleAssistant {
			b.WriteString("[Assistant]: ")
		}
		b.WriteString(wireContent(m))
	}

	var opts []gollm.PromptOption
	system := req.System
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schemaMap(t.InputSchema),
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
		system = strings.TrimSpace(system + "\n\n" + gollmToolInstructions)
	}
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, gollm.WithMaxLength(req.MaxTokens))
	}
	return gollm.NewPrompt(b.String(), opts...)
}

// extractToolCalls pulls a {"tool_calls": [...]} object out of text and
// returns the text that surrounds it.
func extractToolCalls(text string) (string, []domain.ToolCallRequest) {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		return strings.TrimSpace(text), nil
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var envelope struct {
		ToolCalls []struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		} `json:"tool_calls"`
	}
	if err := dec.Decode(&envelope); err != nil {
		return strings.TrimSpace(text), nil
	}
	end := start + int(dec.InputOffset())

	calls := make([]domain.ToolCallRequest, 0, len(envelope.ToolCalls))
	for _, tc := range envelope.ToolCalls {
		if tc.Name == "" {
			continue
		}
		args := tc.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, domain.ToolCallRequest{ID: "call_" + uuid.NewString(), Name: tc.Name, Arguments: args})
	}
	rest := strings.TrimSpace(text[:start] + text[end:])
	return rest, calls
}
