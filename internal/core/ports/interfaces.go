package ports

import (
	"context"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// JobStore abstracts the persistent job storage (DuckDB)
type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job) error
	// GetJob returns domain.ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// UpdateJobStatus applies one status write. Illegal edges and writes to
	// terminal jobs fail with domain.ErrInvalidTransition.
	UpdateJobStatus(ctx context.Context, id domain.JobID, update domain.StatusUpdate) error

	LogJobEvent(ctx context.Context, event domain.JobEvent) error
	ListJobEvents(ctx context.Context, id domain.JobID) ([]domain.JobEvent, error)
}

// ProviderClient is a chat-completion backend. Any failure comes back as a
// *domain.ProviderError. Clients never retry.
type ProviderClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// HealthChecker is implemented by clients that can probe their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ClientFactory turns resolved settings into a ready client.
type ClientFactory interface {
	ClientFor(settings domain.ProviderSettings) (ProviderClient, error)
}

// ToolInvoker executes tool calls on behalf of a caller. Invoke never
// returns an error: every failure is a ToolResult with Success=false.
type ToolInvoker interface {
	Schemas(scope domain.CallerScope) []domain.ToolSchema
	Invoke(ctx context.Context, call domain.ToolCallRequest, scope domain.CallerScope) domain.ToolResult
}

// ProgressReporter is the run's only window onto the job store.
type ProgressReporter interface {
	UpdateStatus(ctx context.Context, id domain.JobID, update domain.StatusUpdate) error
	LogEvent(ctx context.Context, id domain.JobID, eventType domain.EventType, message string, data any) error
	GetStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error)
}

// SettingsSource yields persisted provider settings. An unusable or empty
// result is not an error.
type SettingsSource interface {
	ProviderSettings(ctx context.Context) (domain.ProviderSettings, error)
}

// EventPublisher fans job events out to live consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.JobEvent) error
}

// SandboxRunner runs commands inside an existing sandbox container.
type SandboxRunner interface {
	Exec(ctx context.Context, sandboxID string, cmd []string, workdir string) (domain.SandboxResult, error)
}
