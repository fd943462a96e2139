package domain

// ProviderConfig holds configuration for the chat backend
type ProviderConfig struct {
	LLM LLMProviderConfig `json:"llm"`
}

// LLMProviderConfig configures the LLM provider
type LLMProviderConfig struct {
	Kind         ProviderKind `json:"kind"`          // messages, openai, ollama, gemini, cloud
	BaseURL      string       `json:"base_url"`      // "https://lynkr.example.com"
	APIKey       string       `json:"api_key"`       // Encrypted in storage
	DefaultModel string       `json:"default_model"` // "gpt-oss:20b"
	Vendor       string       `json:"vendor"`        // gollm vendor when kind=cloud
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers"`
}

// DefaultConfig returns safe defaults. No address is set, so the persisted
// settings do not take part in provider selection until someone saves one.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Kind:         ProviderMessages,
				DefaultModel: DefaultModel,
			},
		},
	}
}
