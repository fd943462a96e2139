package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aule-agent/internal/adapters/llm"
	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

// Factory builds provider clients from resolved settings and keeps one
// client per distinct settings value, so runs against the same backend
// share connections.
type Factory struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[domain.ProviderSettings]ports.ProviderClient
}

var _ ports.ClientFactory = (*Factory)(nil)

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		logger:  logger,
		clients: make(map[domain.ProviderSettings]ports.ProviderClient),
	}
}

// ClientFor returns the cached client for settings, building it on first use.
func (f *Factory) ClientFor(settings domain.ProviderSettings) (ports.ProviderClient, error) {
	// Origin does not change how the backend is reached.
	key := settings
	key.Origin = ""

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	c, err := build(settings)
	if err != nil {
		return nil, err
	}
	f.clients[key] = c
	f.logger.Info("provider client created", "provider", settings.Label(), "model", settings.Model)
	return c, nil
}

// Invalidate drops every cached client. It is hooked to settings updates.
func (f *Factory) Invalidate() {
	f.mu.Lock()
	old := f.clients
	f.clients = make(map[domain.ProviderSettings]ports.ProviderClient)
	f.mu.Unlock()

	for key, c := range old {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				f.logger.Warn("failed to close provider client", "provider", key.Label(), "error", err)
			}
		}
	}
}

func build(settings domain.ProviderSettings) (ports.ProviderClient, error) {
	kind := domain.ProviderKind(strings.ToLower(strings.TrimSpace(string(settings.Kind))))
	switch kind {
	case "", domain.ProviderMessages:
		return llm.NewMessagesClient(settings), nil
	case domain.ProviderOpenAI:
		return llm.NewOpenAIClient(settings), nil
	case domain.ProviderOllama:
		return llm.NewOllamaClient(settings), nil
	case domain.ProviderGemini:
		return llm.NewGeminiClient(context.Background(), settings)
	case domain.ProviderCloud:
		return llm.NewGollmClient(settings, domain.DefaultMaxTokens, domain.DefaultTemperature)
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", settings.Kind)
	}
}
