package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderKind selects the wire protocol of a chat backend.
type ProviderKind string

const (
	// ProviderMessages speaks the Anthropic messages format (Lynkr proxy).
	ProviderMessages ProviderKind = "messages"
	ProviderOpenAI   ProviderKind = "openai"
	ProviderOllama   ProviderKind = "ollama"
	ProviderGemini   ProviderKind = "gemini"
	// ProviderCloud routes through gollm to a hosted vendor.
	ProviderCloud ProviderKind = "cloud"
)

// SettingsOrigin records which selector rule produced the settings.
type SettingsOrigin string

const (
	OriginLocal    SettingsOrigin = "local"
	OriginSettings SettingsOrigin = "settings"
	OriginEnv      SettingsOrigin = "env"
)

const (
	DefaultProviderTimeout = 2 * time.Minute
	DefaultMaxTokens       = 8192
	DefaultTemperature     = 0.7
	DefaultLocalURL        = "http://localhost:8081"
	DefaultLocalAPIKey     = "local-dev-key"
	DefaultModel           = "gpt-oss:20b"
)

// ProviderSettings is resolved once per run and never changes during it.
type ProviderSettings struct {
	Kind    ProviderKind   `json:"kind"`
	BaseURL string         `json:"base_url,omitempty"`
	APIKey  string         `json:"-"`
	Model   string         `json:"model"`
	Timeout time.Duration  `json:"timeout"`
	Origin  SettingsOrigin `json:"origin"`
	// Vendor names the hosted vendor for ProviderCloud (openai, anthropic, groq...).
	Vendor string `json:"vendor,omitempty"`
}

// Usable reports whether the settings point at something callable. Address
// based kinds need a URL; SDK based kinds need a key.
func (s ProviderSettings) Usable() bool {
	switch s.Kind {
	case ProviderGemini:
		return strings.TrimSpace(s.APIKey) != ""
	case ProviderCloud:
		return strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.Vendor) != ""
	default:
		return strings.TrimSpace(s.BaseURL) != ""
	}
}

// Label is the provider name reported in outputs and health checks.
func (s ProviderSettings) Label() string {
	if s.Kind == ProviderCloud && s.Vendor != "" {
		return string(s.Kind) + ":" + s.Vendor
	}
	if s.Kind == "" {
		return string(ProviderMessages)
	}
	return string(s.Kind)
}

// ExecContext is everything the Provider Selector may look at. The
// composition root builds it from the process environment.
type ExecContext struct {
	// Local is true when running on a developer machine.
	Local        bool
	LocalURL     string
	LocalAPIKey  string
	DefaultModel string
	Kind         ProviderKind
	// TunnelURL is the last-resort backend address taken from the environment.
	TunnelURL    string
	TunnelAPIKey string
	Timeout      time.Duration
}

type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// ChatRequest is the backend-agnostic input to a provider call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ChatResponse is the backend-agnostic result of a provider call.
type ChatResponse struct {
	StopReason StopReason
	Text       []string
	ToolCalls  []ToolCallRequest
	Model      string
}

// JoinedText concatenates the text blocks of the response.
func (r ChatResponse) JoinedText() string {
	return strings.TrimSpace(strings.Join(r.Text, "\n"))
}

var ErrNoProviderConfigured = errors.New("no provider configured")

// ProviderError wraps any transport, status or decoding failure of a backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider ")
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }
