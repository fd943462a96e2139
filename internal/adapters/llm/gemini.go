package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiClient calls Google's Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, settings domain.ProviderSettings) (*GeminiClient, error) {
	opts := []option.ClientOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(settings.BaseURL))
	}
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := settings.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: c, model: model}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	name := req.Model
	if name == "" {
		name = g.model
	}
	model := g.client.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(schemaMap(t.InputSchema)),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	history, last := geminiContents(req.Messages)
	if last == nil {
		return domain.ChatResponse{}, &domain.ProviderError{Provider: string(domain.ProviderGemini), Message: "empty conversation"}
	}
	session := model.StartChat()
	session.History = history

	out, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return domain.ChatResponse{}, &domain.ProviderError{Provider: string(domain.ProviderGemini), Message: "generate content", Cause: err}
	}
	return geminiResponse(out, name), nil
}

// geminiContents splits the conversation into history and the final turn.
func geminiContents(msgs []domain.Message) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(wireContent(m))}})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func geminiResponse(out *genai.GenerateContentResponse, model string) domain.ChatResponse {
	resp := domain.ChatResponse{Model: model, StopReason: domain.StopEndTurn}
	if out == nil || len(out.Candidates) == 0 {
		resp.StopReason = domain.StopOther
		return resp
	}

	cand := out.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p != "" {
					resp.Text = append(resp.Text, string(p))
				}
			case genai.FunctionCall:
				args := p.Args
				if args == nil {
					args = map[string]any{}
				}
				resp.ToolCalls = append(resp.ToolCalls, domain.ToolCallRequest{
					ID:        "call_" + uuid.NewString(),
					Name:      p.Name,
					Arguments: args,
				})
			}
		}
	}

	switch {
	case len(resp.ToolCalls) > 0:
		resp.StopReason = domain.StopToolUse
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		resp.StopReason = domain.StopMaxTokens
	case cand.FinishReason == genai.FinishReasonStop, cand.FinishReason == genai.FinishReasonUnspecified:
		resp.StopReason = domain.StopEndTurn
	default:
		resp.StopReason = domain.StopOther
	}
	return resp
}

// geminiSchema converts a JSON-schema fragment into the SDK's Schema type.
func geminiSchema(in map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	switch in["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if d, ok := in["description"].(string); ok {
		s.Description = d
	}
	if props, ok := in["properties"].(map[string]interface{}); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = geminiSchema(child)
			}
		}
	}
	if items, ok := in["items"].(map[string]interface{}); ok {
		s.Items = geminiSchema(items)
	}
	switch req := in["required"].(type) {
	case []string:
		s.Required = req
	case []interface{}:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	switch enum := in["enum"].(type) {
	case []string:
		s.Enum = enum
	case []interface{}:
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}
