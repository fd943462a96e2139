package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

const settingsKey = "app_config"

// SettingsRepository is the minimal DB interface for settings persistence.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore keeps provider settings as one JSON document with the API
// key encrypted at rest and masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

var _ ports.SettingsSource = (*SettingsStore)(nil)

// NewSettingsStore loads the saved settings, writing defaults on first run.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo SettingsRepository, secret *SecretKey) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	cfg, err := store.loadFromDB(ctx)
	if err != nil {
		logger.Warn("no saved settings found, using defaults", "error", err)
		cfg = domain.DefaultConfig()
		if err := store.saveToDB(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config with the key decrypted.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	return &cp
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	cp := s.GetConfig()
	cp.Providers.LLM.APIKey = MaskSecret(cp.Providers.LLM.APIKey)
	return cp
}

// ProviderSettings exposes the stored LLM config to the provider selector.
// An empty BaseURL simply makes the result unusable.
func (s *SettingsStore) ProviderSettings(context.Context) (domain.ProviderSettings, error) {
	llm := s.GetConfig().Providers.LLM
	return domain.ProviderSettings{
		Kind:    llm.Kind,
		BaseURL: llm.BaseURL,
		APIKey:  llm.APIKey,
		Model:   llm.DefaultModel,
		Vendor:  llm.Vendor,
	}, nil
}

// UpdateConfig validates, persists and then notifies OnChange callbacks.
// An empty or masked api_key keeps the stored one.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()

	llm := &update.Providers.LLM
	if llm.APIKey == "" || isMasked(llm.APIKey) {
		llm.APIKey = s.config.Providers.LLM.APIKey
	}
	if llm.Kind == "" {
		llm.Kind = domain.ProviderMessages
	}
	if llm.DefaultModel == "" {
		llm.DefaultModel = domain.DefaultModel
	}
	if err := validateLLM(*llm); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := s.saveToDB(ctx, update); err != nil {
		s.mu.Unlock()
		return err
	}

	s.config = update
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"provider_kind", llm.Kind,
		"base_url", llm.BaseURL,
		"model", llm.DefaultModel,
	)

	for _, fn := range callbacks {
		cp := *update
		fn(&cp)
	}
	return nil
}

func validateLLM(llm domain.LLMProviderConfig) error {
	switch llm.Kind {
	case domain.ProviderMessages, domain.ProviderOpenAI, domain.ProviderOllama:
		if llm.BaseURL != "" {
			u, err := url.Parse(llm.BaseURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("LLM base_url must be an absolute URL, got %q", llm.BaseURL)
			}
		}
	case domain.ProviderGemini:
		if llm.APIKey == "" {
			return fmt.Errorf("LLM api_key is required when kind=gemini")
		}
	case domain.ProviderCloud:
		if llm.Vendor == "" || llm.APIKey == "" {
			return fmt.Errorf("LLM vendor and api_key are required when kind=cloud")
		}
	default:
		return fmt.Errorf("unknown LLM kind %q", llm.Kind)
	}
	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}

	var stored storedConfig
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg := &domain.AppConfig{
		Providers: domain.ProviderConfig{
			LLM: domain.LLMProviderConfig{
				Kind:         stored.LLM.Kind,
				BaseURL:      stored.LLM.BaseURL,
				DefaultModel: stored.LLM.DefaultModel,
				Vendor:       stored.LLM.Vendor,
			},
		},
	}

	if stored.LLM.EncryptedAPIKey != "" {
		key, err := s.secret.Decrypt(stored.LLM.EncryptedAPIKey)
		if err != nil {
			s.logger.Warn("failed to decrypt LLM API key", "error", err)
		} else {
			cfg.Providers.LLM.APIKey = key
		}
	}

	return cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	stored := storedConfig{
		LLM: storedProviderConfig{
			Kind:         cfg.Providers.LLM.Kind,
			BaseURL:      cfg.Providers.LLM.BaseURL,
			DefaultModel: cfg.Providers.LLM.DefaultModel,
			Vendor:       cfg.Providers.LLM.Vendor,
		},
	}

	if cfg.Providers.LLM.APIKey != "" {
		enc, err := s.secret.Encrypt(cfg.Providers.LLM.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt LLM API key: %w", err)
		}
		stored.LLM.EncryptedAPIKey = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// storedConfig is the DB representation with encrypted fields
type storedConfig struct {
	LLM storedProviderConfig `json:"llm"`
}

type storedProviderConfig struct {
	Kind            domain.ProviderKind `json:"kind"`
	BaseURL         string              `json:"base_url"`
	EncryptedAPIKey string              `json:"encrypted_api_key,omitempty"`
	DefaultModel    string              `json:"default_model"`
	Vendor          string              `json:"vendor,omitempty"`
}

func isMasked(s string) bool {
	return len(s) >= 4 && s[:4] == "****"
}
