package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/aule-agent/internal/adapters/docker"
	"github.com/manthysbr/aule-agent/internal/adapters/duckdb"
	"github.com/manthysbr/aule-agent/internal/adapters/providers"
	"github.com/manthysbr/aule-agent/internal/adapters/redisstream"
	appconfig "github.com/manthysbr/aule-agent/internal/config"
	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
	"github.com/manthysbr/aule-agent/internal/core/services"
	"github.com/manthysbr/aule-agent/pkg/kernel"
)

func main() {
	cfg, err := appconfig.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.IsLocal())
	logger.Info("starting aule-agent", "env", cfg.Env, "addr", cfg.ListenAddr)

	if err := run(logger, cfg); err != nil {
		logger.Error("aule-agent failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg appconfig.RuntimeConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	secretKey, err := appconfig.NewSecretKey(cfg.SecretKey, "")
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}
	settingsStore, err := appconfig.NewSettingsStore(ctx, logger, repo, secretKey)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}

	// Provider clients are cached per settings value; a settings change
	// drops them so the next run builds fresh ones.
	factory := providers.NewFactory(logger)
	settingsStore.OnChange(func(*domain.AppConfig) {
		factory.Invalidate()
		logger.Info("provider clients reset after settings change")
	})

	eventBus := services.NewEventBus(logger)
	publishers := []ports.EventPublisher{eventBus}
	if cfg.RedisURL != "" {
		client, err := redisstream.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		publishers = append(publishers, redisstream.NewPublisher(client, 0))
		logger.Info("job events mirrored to redis streams")
	}

	workspaces := services.NewWorkspaceManager(cfg.WorkspaceRoot)
	tools := []*domain.Tool{
		services.NewReadFileTool(workspaces),
		services.NewWriteFileTool(workspaces),
		services.NewListFilesTool(workspaces),
		services.NewEditFileTool(workspaces),
		services.NewDeleteFileTool(workspaces),
		services.NewExecTool(workspaces),
		services.NewRememberTool(workspaces),
		services.NewRecallTool(workspaces),
	}
	if cfg.WebFetch {
		tools = append(tools, services.NewWebFetchTool(nil))
	}
	if cfg.DockerSandbox {
		sandbox, err := docker.NewSandbox()
		if err != nil {
			return fmt.Errorf("failed to init docker sandbox: %w", err)
		}
		defer sandbox.Close()
		tools = append(tools, services.NewSandboxExecTool(sandbox))
	}
	registry := domain.NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	reporter := services.NewJobProgressReporter(logger, repo, publishers...)
	selector := services.NewProviderSelector(logger, settingsStore)
	orchestrator := services.NewOrchestrator(logger, selector, factory,
		services.NewRegistryInvoker(logger, registry), reporter, services.OrchestratorConfig{})
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	})
	agent := services.NewAgentService(logger, repo, reporter, orchestrator, selector, factory, scheduler, cfg.ExecContext())

	if !cfg.IsLocal() && cfg.ExecutionSecret == "" {
		logger.Warn("no execution secret configured, mutating routes will reject every caller")
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	apiServer, err := kernel.NewServer(ctx, logger, agent, eventBus, settingsStore, kernel.Options{
		Secret:         cfg.ExecutionSecret,
		TrustLoopback:  cfg.IsLocal(),
		AllowedOrigins: origins,
	})
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	agent.Start(gCtx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	agent.Wait()
	return err
}
