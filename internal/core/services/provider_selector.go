package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

// ProviderSelector resolves which backend a run talks to. It performs no
// network calls and reads nothing but its inputs.
type ProviderSelector struct {
	logger   *slog.Logger
	settings ports.SettingsSource
}

// NewProviderSelector creates a selector. settings may be nil.
func NewProviderSelector(logger *slog.Logger, settings ports.SettingsSource) *ProviderSelector {
	return &ProviderSelector{logger: logger, settings: settings}
}

// Resolve applies, in order: local environment, persisted settings, the
// environment tunnel address. Nothing usable yields ErrNoProviderConfigured.
func (s *ProviderSelector) Resolve(ctx context.Context, exec domain.ExecContext) (domain.ProviderSettings, error) {
	timeout := exec.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultProviderTimeout
	}
	model := strings.TrimSpace(exec.DefaultModel)
	if model == "" {
		model = domain.DefaultModel
	}
	kind := exec.Kind
	if kind == "" {
		kind = domain.ProviderMessages
	}

	if exec.Local {
		url := strings.TrimSpace(exec.LocalURL)
		if url == "" {
			url = domain.DefaultLocalURL
		}
		key := exec.LocalAPIKey
		if key == "" {
			key = domain.DefaultLocalAPIKey
		}
		return domain.ProviderSettings{
			Kind:    kind,
			BaseURL: url,
			APIKey:  key,
			Model:   model,
			Timeout: timeout,
			Origin:  domain.OriginLocal,
		}, nil
	}

	if s.settings != nil {
		stored, err := s.settings.ProviderSettings(ctx)
		if err != nil {
			s.logger.Warn("provider settings unavailable", "error", err)
		} else if stored.Usable() {
			if stored.Kind == "" {
				stored.Kind = kind
			}
			if stored.Model == "" {
				stored.Model = model
			}
			if stored.Timeout <= 0 {
				stored.Timeout = timeout
			}
			stored.Origin = domain.OriginSettings
			return stored, nil
		}
	}

	if url := strings.TrimSpace(exec.TunnelURL); url != "" {
		return domain.ProviderSettings{
			Kind:    kind,
			BaseURL: url,
			APIKey:  exec.TunnelAPIKey,
			Model:   model,
			Timeout: timeout,
			Origin:  domain.OriginEnv,
		}, nil
	}

	return domain.ProviderSettings{}, fmt.Errorf("resolve provider: %w", domain.ErrNoProviderConfigured)
}
