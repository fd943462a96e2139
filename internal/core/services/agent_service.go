package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

const (
	serviceName        = "agent-execution"
	healthProbeTimeout = 5 * time.Second
)

// Capabilities advertised by the health report.
var Capabilities = []string{"agent_task", "code_iteration", "specialist_delegation"}

// CreateJobRequest is the input for a new job. Input is decoded according
// to Type.
type CreateJobRequest struct {
	Type          domain.JobType  `json:"type"`
	Input         json.RawMessage `json:"input"`
	OwnerID       string          `json:"owner_id"`
	MaxIterations int             `json:"max_iterations,omitempty"`
}

// ExecuteResult is what a trigger gets back from Execute.
type ExecuteResult struct {
	JobID    domain.JobID      `json:"job_id"`
	Status   domain.JobStatus  `json:"status"`
	Result   *domain.RunResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Provider string            `json:"provider,omitempty"`
	// Message is set when nothing ran because the job was already terminal.
	Message string `json:"message,omitempty"`
}

// Success reports whether the run ended in succeeded.
func (r ExecuteResult) Success() bool { return r.Status == domain.JobStatusSucceeded }

// HealthReport is the read-only view served by the health endpoint.
type HealthReport struct {
	Status       string    `json:"status"`
	Service      string    `json:"service"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Configured   bool      `json:"configured"`
	Reachable    bool      `json:"reachable"`
	Capabilities []string  `json:"capabilities"`
}

// AgentService is the trigger surface around the Orchestrator. It enforces
// at most one active run per job id inside this process.
type AgentService struct {
	logger       *slog.Logger
	store        ports.JobStore
	reporter     ports.ProgressReporter
	orchestrator *Orchestrator
	selector     *ProviderSelector
	clients      ports.ClientFactory
	scheduler    *JobScheduler
	exec         domain.ExecContext

	mu       sync.Mutex
	inflight map[domain.JobID]struct{}
	now      func() time.Time
}

func NewAgentService(
	logger *slog.Logger,
	store ports.JobStore,
	reporter ports.ProgressReporter,
	orchestrator *Orchestrator,
	selector *ProviderSelector,
	clients ports.ClientFactory,
	scheduler *JobScheduler,
	exec domain.ExecContext,
) *AgentService {
	return &AgentService{
		logger:       logger,
		store:        store,
		reporter:     reporter,
		orchestrator: orchestrator,
		selector:     selector,
		clients:      clients,
		scheduler:    scheduler,
		exec:         exec,
		inflight:     make(map[domain.JobID]struct{}),
		now:          time.Now,
	}
}

// Start begins consuming asynchronously submitted jobs.
func (s *AgentService) Start(ctx context.Context) {
	s.scheduler.Start(ctx, s.runScheduled)
}

// Wait blocks until every asynchronously started run has returned.
func (s *AgentService) Wait() {
	s.scheduler.Wait()
}

// CreateJob validates the input and stores a queued job.
func (s *AgentService) CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	jobType := req.Type
	if jobType == "" {
		jobType = domain.JobTypeGeneral
	}
	if len(req.Input) == 0 {
		return domain.Job{}, fmt.Errorf("%w: input is required", domain.ErrInvalidJobInput)
	}
	input, err := domain.DecodeTaskInput(jobType, req.Input)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJobType) {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidJobInput, err)
	}
	if err := domain.ValidateTaskInput(input); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidJobInput, err)
	}
	if req.MaxIterations < 0 {
		return domain.Job{}, fmt.Errorf("%w: max_iterations must be positive", domain.ErrInvalidJobInput)
	}

	now := s.now().UTC()
	job := domain.Job{
		ID:            domain.JobID(uuid.NewString()),
		Type:          jobType,
		Input:         input,
		OwnerID:       req.OwnerID,
		MaxIterations: req.MaxIterations,
		Status:        domain.JobStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job created", "job_id", job.ID, "type", job.Type)
	return job, nil
}

// GetJob returns a single job.
func (s *AgentService) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns the most recent jobs first.
func (s *AgentService) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

// ListJobEvents returns a job's events in emission order.
func (s *AgentService) ListJobEvents(ctx context.Context, id domain.JobID) ([]domain.JobEvent, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListJobEvents(ctx, id)
}

// Execute runs the job synchronously. Terminal jobs are reported without
// running; a second concurrent Execute for the same id fails with
// domain.ErrJobAlreadyRunning.
//
// The claim is taken before the job is loaded so the terminal check always
// sees the state left by any run that finished before this one.
func (s *AgentService) Execute(ctx context.Context, id domain.JobID) (ExecuteResult, error) {
	if !s.claim(id) {
		return ExecuteResult{}, fmt.Errorf("execute job %s: %w", id, domain.ErrJobAlreadyRunning)
	}
	defer s.release(id)

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if job.Status.IsTerminal() {
		return ExecuteResult{
			JobID:   id,
			Status:  job.Status,
			Message: fmt.Sprintf("Job already %s", job.Status),
		}, nil
	}

	s.logger.Info("executing job", "job_id", id, "type", job.Type)
	out := s.orchestrator.Run(ctx, job, s.exec)

	res := ExecuteResult{
		JobID:    id,
		Status:   out.Status,
		Result:   out.Result,
		Error:    out.Error,
		Provider: out.Provider,
	}
	if out.Skipped {
		res.Message = fmt.Sprintf("Job already %s", out.Status)
	}
	return res, nil
}

// Submit queues the job for asynchronous execution.
func (s *AgentService) Submit(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if s.running(id) {
		return domain.Job{}, fmt.Errorf("submit job %s: %w", id, domain.ErrJobAlreadyRunning)
	}
	if err := s.scheduler.SubmitJob(ctx, id); err != nil {
		return domain.Job{}, fmt.Errorf("submit job %s: %w", id, err)
	}
	return job, nil
}

func (s *AgentService) runScheduled(ctx context.Context, id domain.JobID) {
	res, err := s.Execute(ctx, id)
	if err != nil {
		s.logger.Error("scheduled run failed to start", "job_id", id, "error", err)
		return
	}
	s.logger.Info("scheduled run finished", "job_id", id, "status", res.Status)
}

// CancelJob marks the job cancelled. A running loop notices at its next
// status poll.
func (s *AgentService) CancelJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if !job.Status.CanTransitionTo(domain.JobStatusCancelled) {
		return domain.Job{}, &domain.TransitionError{From: job.Status, To: domain.JobStatusCancelled}
	}

	msg := cancelledMessage
	err = s.reporter.UpdateStatus(ctx, id, domain.StatusUpdate{
		Status:   domain.JobStatusCancelled,
		Progress: job.Progress,
		Message:  msg,
		Error:    &msg,
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("cancel job %s: %w", id, err)
	}
	s.logger.Info("job cancelled", "job_id", id, "was", job.Status)
	return s.store.GetJob(ctx, id)
}

// Health reports the provider the next run would use. It never mutates
// state.
func (s *AgentService) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       "healthy",
		Service:      serviceName,
		Timestamp:    s.now().UTC(),
		Provider:     "none",
		Capabilities: Capabilities,
	}

	settings, err := s.selector.Resolve(ctx, s.exec)
	if err != nil {
		return report
	}
	report.Configured = true
	report.Provider = settings.Label()

	client, err := s.clients.ClientFor(settings)
	if err != nil {
		s.logger.Warn("health: cannot build provider client", "provider", report.Provider, "error", err)
		return report
	}
	checker, ok := client.(ports.HealthChecker)
	if !ok {
		report.Reachable = true
		return report
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := checker.Health(probeCtx); err != nil {
		s.logger.Warn("health: provider probe failed", "provider", report.Provider, "error", err)
		return report
	}
	report.Reachable = true
	return report
}

func (s *AgentService) claim(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *AgentService) release(id domain.JobID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *AgentService) running(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[id]
	return busy
}
