package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// providerSettingsBody mirrors the ProviderSettings schema.
type providerSettingsBody struct {
	Kind         domain.ProviderKind `json:"kind"`
	BaseURL      string              `json:"base_url"`
	APIKey       string              `json:"api_key"`
	DefaultModel string              `json:"default_model"`
	Vendor       string              `json:"vendor"`
}

func settingsBody(cfg *domain.AppConfig) providerSettingsBody {
	llm := cfg.Providers.LLM
	return providerSettingsBody{
		Kind:         llm.Kind,
		BaseURL:      llm.BaseURL,
		APIKey:       llm.APIKey,
		DefaultModel: llm.DefaultModel,
		Vendor:       llm.Vendor,
	}
}

// handleGetSettings returns the persisted provider settings, key masked.
// GET /v1/settings/provider
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settingsBody(s.settings.GetMaskedConfig()))
}

// handleUpdateSettings replaces the persisted provider settings. Sending the
// masked key back keeps the stored one.
// PUT /v1/settings/provider
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body providerSettingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := &domain.AppConfig{Providers: domain.ProviderConfig{LLM: domain.LLMProviderConfig{
		Kind:         body.Kind,
		BaseURL:      body.BaseURL,
		APIKey:       body.APIKey,
		DefaultModel: body.DefaultModel,
		Vendor:       body.Vendor,
	}}}
	if err := s.settings.UpdateConfig(r.Context(), update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsBody(s.settings.GetMaskedConfig()))
}
