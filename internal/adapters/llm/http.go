package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const (
	healthTimeout = 5 * time.Second
	maxErrorBody  = 2048
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = domain.DefaultProviderTimeout
	}
	return &http.Client{Timeout: timeout}
}

// trimBase drops trailing slashes and an optional suffix such as "/v1".
func trimBase(baseURL, suffix string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if suffix != "" {
		trimmed = strings.TrimSuffix(trimmed, suffix)
	}
	return trimmed
}

// postJSON sends payload and decodes a 2xx body into out. Every failure is
// a *domain.ProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &domain.ProviderError{Provider: provider, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: "decode response", Cause: err}
	}
	return nil
}

// probe issues a GET and treats any 2xx as healthy.
func probe(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Message: "create health request", Cause: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Message: "health check failed", Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

// withTimeout applies the per-request timeout when one is set.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// wireRole maps conversation roles to the user/assistant pair every backend
// accepts. Tool results already travel inside a user message.
func wireRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "assistant"
	}
	return "user"
}

// wireContent never sends an empty assistant turn; some backends reject it.
func wireContent(m domain.Message) string {
	if m.Content == "" && m.Role == domain.RoleAssistant {
		return domain.ToolUsePlaceholder
	}
	return m.Content
}

func schemaMap(p domain.ToolParameters) map[string]interface{} {
	props := p.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	out := map[string]interface{}{
		"type":       p.Type,
		"properties": props,
	}
	if len(p.Required) > 0 {
		out["required"] = p.Required
	}
	return out
}
