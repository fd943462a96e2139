package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// RuntimeConfig is the process configuration read once at startup.
type RuntimeConfig struct {
	ListenAddr      string
	DBPath          string
	Env             string
	ExecutionSecret string
	SecretKey       string

	LocalURL        string
	APIKey          string
	DefaultModel    string
	TunnelURL       string
	ProviderKind    domain.ProviderKind
	ProviderTimeout time.Duration

	RedisURL          string
	DockerSandbox     bool
	WebFetch          bool
	WorkspaceRoot     string
	MaxConcurrentRuns int64
	AllowedOrigins    []string
	LogFormat         string
}

// Load reads the optional dotenv files and then the process environment.
// Real environment variables win over file values; missing files are
// skipped.
func Load(dotenvPaths ...string) (RuntimeConfig, error) {
	fileVals := map[string]string{}
	for _, p := range dotenvPaths {
		vals, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}

	return FromEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVals[key]
	})
}

// FromEnv builds the config from a lookup function.
func FromEnv(getenv func(string) string) (RuntimeConfig, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := RuntimeConfig{
		ListenAddr:      get("AULE_LISTEN_ADDR", ":8080"),
		DBPath:          get("AULE_DB_PATH", "aule-agent.db"),
		Env:             get("AULE_ENV", ""),
		ExecutionSecret: get("AGENT_EXECUTION_SECRET", get("CRON_SECRET", "")),
		SecretKey:       get("AULE_SECRET_KEY", ""),
		LocalURL:        get("LYNKR_LOCAL_URL", domain.DefaultLocalURL),
		APIKey:          get("LYNKR_API_KEY", ""),
		DefaultModel:    get("LYNKR_DEFAULT_MODEL", domain.DefaultModel),
		TunnelURL:       get("LYNKR_TUNNEL_URL", ""),
		ProviderKind:    domain.ProviderKind(get("LYNKR_PROVIDER_KIND", string(domain.ProviderMessages))),
		RedisURL:        get("REDIS_URL", ""),
		WorkspaceRoot:   get("AULE_WORKSPACE_ROOT", ""),
		LogFormat:       get("LOG_FORMAT", ""),
	}

	switch cfg.ProviderKind {
	case domain.ProviderMessages, domain.ProviderOpenAI, domain.ProviderOllama, domain.ProviderGemini, domain.ProviderCloud:
	default:
		return RuntimeConfig{}, fmt.Errorf("LYNKR_PROVIDER_KIND: unknown provider kind %q", cfg.ProviderKind)
	}

	for key, dst := range map[string]*bool{
		"AULE_DOCKER_SANDBOX": &cfg.DockerSandbox,
		"AULE_WEB_FETCH":      &cfg.WebFetch,
	} {
		if raw := get(key, ""); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return RuntimeConfig{}, fmt.Errorf("%s: %w", key, err)
			}
			*dst = v
		}
	}

	cfg.MaxConcurrentRuns = 10
	if raw := get("AULE_MAX_CONCURRENT_RUNS", ""); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return RuntimeConfig{}, fmt.Errorf("AULE_MAX_CONCURRENT_RUNS: must be a positive integer, got %q", raw)
		}
		cfg.MaxConcurrentRuns = n
	}

	cfg.ProviderTimeout = domain.DefaultProviderTimeout
	if raw := get("LYNKR_TIMEOUT", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("LYNKR_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}

	if raw := get("AULE_ALLOWED_ORIGINS", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

// IsLocal reports whether the process runs on a developer machine.
func (c RuntimeConfig) IsLocal() bool {
	return c.Env == "" || c.Env == "development"
}

// ExecContext is the only view of the environment the provider selector
// gets.
func (c RuntimeConfig) ExecContext() domain.ExecContext {
	return domain.ExecContext{
		Local:        c.IsLocal(),
		LocalURL:     c.LocalURL,
		LocalAPIKey:  c.APIKey,
		DefaultModel: c.DefaultModel,
		Kind:         c.ProviderKind,
		TunnelURL:    c.TunnelURL,
		TunnelAPIKey: c.APIKey,
		Timeout:      c.ProviderTimeout,
	}
}
