package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(mapEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "aule-agent.db", cfg.DBPath)
	assert.Equal(t, domain.DefaultLocalURL, cfg.LocalURL)
	assert.Equal(t, domain.DefaultModel, cfg.DefaultModel)
	assert.Equal(t, domain.ProviderMessages, cfg.ProviderKind)
	assert.Equal(t, int64(10), cfg.MaxConcurrentRuns)
	assert.Equal(t, domain.DefaultProviderTimeout, cfg.ProviderTimeout)
	assert.True(t, cfg.IsLocal())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"AULE_ENV":                 "production",
		"CRON_SECRET":              "cron",
		"LYNKR_TUNNEL_URL":         "https://tunnel.example.com",
		"LYNKR_API_KEY":            "k",
		"LYNKR_PROVIDER_KIND":      "openai",
		"LYNKR_TIMEOUT":            "45s",
		"AULE_DOCKER_SANDBOX":      "true",
		"AULE_WEB_FETCH":           "1",
		"AULE_MAX_CONCURRENT_RUNS": "3",
		"AULE_ALLOWED_ORIGINS":     "http://a.test, http://b.test ,",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.IsLocal())
	assert.Equal(t, "cron", cfg.ExecutionSecret)
	assert.True(t, cfg.DockerSandbox)
	assert.True(t, cfg.WebFetch)
	assert.Equal(t, int64(3), cfg.MaxConcurrentRuns)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)

	exec := cfg.ExecContext()
	assert.False(t, exec.Local)
	assert.Equal(t, "https://tunnel.example.com", exec.TunnelURL)
	assert.Equal(t, "k", exec.TunnelAPIKey)
	assert.Equal(t, domain.ProviderOpenAI, exec.Kind)
	assert.Equal(t, 45*time.Second, exec.Timeout)
}

func TestFromEnv_ExecutionSecretPrefersDedicatedVar(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"AGENT_EXECUTION_SECRET": "agent",
		"CRON_SECRET":            "cron",
	}))
	require.NoError(t, err)
	assert.Equal(t, "agent", cfg.ExecutionSecret)
}

func TestFromEnv_Invalid(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"kind":    {"LYNKR_PROVIDER_KIND": "carrier-pigeon"},
		"bool":    {"AULE_DOCKER_SANDBOX": "maybe"},
		"runs":    {"AULE_MAX_CONCURRENT_RUNS": "0"},
		"timeout": {"LYNKR_TIMEOUT": "soon"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(mapEnv(env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotenvFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LYNKR_DEFAULT_MODEL=file-model\nAULE_LISTEN_ADDR=:9999\n"), 0600))
	t.Setenv("AULE_LISTEN_ADDR", ":7000")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "file-model", cfg.DefaultModel)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}
