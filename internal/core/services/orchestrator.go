package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

const (
	iterationCapSummary = "Task completed (max iterations reached)"
	iterationCapNote    = "Consider increasing max_iterations if the task was not fully completed"
	cancelledMessage    = "Job cancelled by user"
	maxProgress         = 90
)

// OrchestratorConfig holds generation parameters shared by every run.
type OrchestratorConfig struct {
	MaxTokens   int
	Temperature float64
}

// Orchestrator owns the agent loop: provider call, tool calls, fold results
// back, check cancellation, repeat. One Run serves one job; runs share
// nothing but the job store behind the reporter.
type Orchestrator struct {
	logger   *slog.Logger
	selector *ProviderSelector
	clients  ports.ClientFactory
	tools    ports.ToolInvoker
	reporter ports.ProgressReporter
	cfg      OrchestratorConfig
	now      func() time.Time
}

func NewOrchestrator(
	logger *slog.Logger,
	selector *ProviderSelector,
	clients ports.ClientFactory,
	tools ports.ToolInvoker,
	reporter ports.ProgressReporter,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = domain.DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = domain.DefaultTemperature
	}
	return &Orchestrator{
		logger:   logger,
		selector: selector,
		clients:  clients,
		tools:    tools,
		reporter: reporter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// run is the state of a single execution. It is never shared.
type run struct {
	o            *Orchestrator
	job          domain.Job
	settings     domain.ProviderSettings
	scope        domain.CallerScope
	transcript   []domain.TranscriptEntry
	conversation []domain.Message
	maxIters     int
	terminal     bool
}

// Run executes the job to a terminal outcome. A job that is already
// terminal is returned untouched. Run never panics and never returns an
// error: everything ends up in the Outcome.
func (o *Orchestrator) Run(ctx context.Context, job domain.Job, exec domain.ExecContext) (out domain.Outcome) {
	r := &run{o: o, job: job, maxIters: job.EffectiveMaxIterations()}
	r.seed()

	if job.Status.IsTerminal() {
		o.logger.Info("job already terminal, skipping", "job_id", job.ID, "status", job.Status)
		return domain.Outcome{Status: job.Status, Transcript: r.snapshot(), Skipped: true}
	}

	defer func() {
		if r.settings.Origin != "" {
			out.Provider = r.settings.Label()
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("agent run panicked", "job_id", job.ID, "panic", p)
			out = r.fail(ctx, fmt.Errorf("internal error: %v", p))
		}
	}()

	settings, err := o.selector.Resolve(ctx, exec)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.settings = settings

	client, err := o.clients.ClientFor(settings)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("build %s client: %w", settings.Label(), err))
	}

	return r.loop(ctx, client)
}

func (r *run) seed() {
	task := "Unknown task"
	if r.job.Input != nil {
		if d := strings.TrimSpace(r.job.Input.TaskDescription()); d != "" {
			task = d
		}
	}
	r.scope = domain.CallerScope{
		UserID: r.job.OwnerID,
		// Jobs act with their owner's full access; tools enforce the rest.
		AccessLevel: domain.AccessOwner,
		JobID:       r.job.ID,
	}
	if ci, ok := r.job.Input.(domain.CodeIterationTask); ok {
		r.scope.SandboxID = ci.SandboxID
	}
	r.conversation = []domain.Message{{Role: domain.RoleUser, Content: task}}
	r.transcript = []domain.TranscriptEntry{{Role: domain.RoleUser, Content: task, Timestamp: r.o.now()}}
}

func (r *run) loop(ctx context.Context, client ports.ProviderClient) domain.Outcome {
	o := r.o
	system := BuildSystemPrompt(r.job.Input)
	schemas := o.tools.Schemas(r.scope)

	r.report(ctx, domain.StatusUpdate{
		Status:  domain.JobStatusRunning,
		Message: fmt.Sprintf("Starting: %s (%s)", r.label(), r.settings.Label()),
	})
	r.event(ctx, domain.EventStarted, "Agent execution started", map[string]any{
		"job_type": r.job.Type,
		"owner_id": r.job.OwnerID,
		"provider": r.settings.Label(),
		"origin":   r.settings.Origin,
		"model":    r.settings.Model,
		"tools":    len(schemas),
	})

	o.logger.Info("agent run started",
		"job_id", r.job.ID,
		"provider", r.settings.Label(),
		"model", r.settings.Model,
		"max_iterations", r.maxIters,
		"tools", len(schemas),
	)

	for iteration := 1; ; iteration++ {
		if iteration > r.maxIters {
			o.logger.Info("iteration cap reached", "job_id", r.job.ID, "max_iterations", r.maxIters)
			return r.succeed(ctx, domain.RunResult{
				Summary:    iterationCapSummary,
				Iterations: r.maxIters,
				Provider:   r.settings.Label(),
				Model:      r.settings.Model,
				Note:       iterationCapNote,
			})
		}
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, fmt.Errorf("run aborted: %w", err))
		}

		r.report(ctx, domain.StatusUpdate{
			Status:   domain.JobStatusRunning,
			Progress: iterationProgress(iteration, r.maxIters),
			Message:  fmt.Sprintf("Iteration %d/%d", iteration, r.maxIters),
		})
		r.event(ctx, domain.EventIteration, fmt.Sprintf("Starting iteration %d", iteration), map[string]any{
			"iteration":      iteration,
			"max_iterations": r.maxIters,
			"provider":       r.settings.Label(),
		})

		resp, err := client.Chat(ctx, domain.ChatRequest{
			Model:       r.settings.Model,
			Messages:    slices.Clip(r.conversation),
			System:      system,
			Tools:       schemas,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
			Timeout:     r.settings.Timeout,
		})
		if err != nil {
			o.logger.Error("provider call failed", "job_id", r.job.ID, "iteration", iteration, "error", err)
			r.event(ctx, domain.EventError, fmt.Sprintf("Provider error: %v", err), map[string]any{
				"iteration": iteration,
				"error":     err.Error(),
			})
			return r.fail(ctx, fmt.Errorf("provider error: %w", err))
		}

		text := resp.JoinedText()
		content := text
		if content == "" {
			content = domain.ToolUsePlaceholder
		}
		calls := r.assignCallIDs(resp.ToolCalls)
		r.conversation = append(r.conversation, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		r.transcript = append(r.transcript, domain.TranscriptEntry{
			Role:      domain.RoleAssistant,
			Content:   content,
			Timestamp: o.now(),
		})

		if resp.StopReason == domain.StopEndTurn || len(calls) == 0 {
			summary := text
			if summary == "" {
				summary = "Task completed"
			}
			model := resp.Model
			if model == "" {
				model = r.settings.Model
			}
			o.logger.Info("agent run finished", "job_id", r.job.ID, "iterations", iteration)
			return r.succeed(ctx, domain.RunResult{
				Summary:    summary,
				Iterations: iteration,
				Provider:   r.settings.Label(),
				Model:      model,
			})
		}

		results := make([]string, 0, len(calls))
		for _, call := range calls {
			results = append(results, r.invoke(ctx, call))
		}

		r.conversation = append(r.conversation, domain.Message{
			Role:    domain.RoleUser,
			Content: "Tool execution results:\n\n" + strings.Join(results, "\n\n") + "\n\nContinue with the task.",
		})

		status, err := o.reporter.GetStatus(ctx, r.job.ID)
		if err != nil {
			o.logger.Warn("cancellation check failed", "job_id", r.job.ID, "error", err)
		} else if status == domain.JobStatusCancelled {
			o.logger.Info("job cancelled", "job_id", r.job.ID, "iteration", iteration)
			return domain.Outcome{
				Status:     domain.JobStatusCancelled,
				Error:      cancelledMessage,
				Transcript: r.snapshot(),
			}
		}
	}
}

// invoke runs one tool call and returns its line for the synthetic
// results message.
func (r *run) invoke(ctx context.Context, call domain.ToolCallRequest) string {
	r.event(ctx, domain.EventToolCall, "Executing: "+call.Name, map[string]any{
		"tool":         call.Name,
		"tool_call_id": call.ID,
		"args":         call.Arguments,
	})

	result := r.o.tools.Invoke(ctx, call, r.scope)
	payload := toolPayload(result)

	r.transcript = append(r.transcript, domain.TranscriptEntry{
		Role:       domain.RoleTool,
		Content:    payload,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  r.o.now(),
	})

	outcome, marker := "success", "SUCCESS"
	if !result.Success {
		outcome, marker = "failed", "FAILED"
		r.o.logger.Warn("tool call failed", "job_id", r.job.ID, "tool", call.Name, "error", result.Error)
	}
	data := map[string]any{"tool": call.Name, "success": result.Success}
	if result.Error != "" {
		data["error"] = result.Error
	}
	r.event(ctx, domain.EventToolResult, fmt.Sprintf("%s: %s", call.Name, outcome), data)

	return fmt.Sprintf("Tool %s result: %s\n%s", call.Name, marker, payload)
}

func (r *run) assignCallIDs(calls []domain.ToolCallRequest) []domain.ToolCallRequest {
	out := make([]domain.ToolCallRequest, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

func (r *run) succeed(ctx context.Context, result domain.RunResult) domain.Outcome {
	transcript := r.snapshot()
	output, err := json.Marshal(map[string]any{
		"result":       result,
		"transcript":   transcript,
		"completed_at": r.o.now().UTC(),
		"provider":     result.Provider,
	})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("encode output: %w", err))
	}

	r.terminal = true
	r.report(context.WithoutCancel(ctx), domain.StatusUpdate{
		Status:   domain.JobStatusSucceeded,
		Progress: 100,
		Message:  "Task completed successfully",
		Output:   output,
	})
	r.event(context.WithoutCancel(ctx), domain.EventCompleted, "Agent task completed successfully", map[string]any{
		"iterations": result.Iterations,
		"provider":   result.Provider,
	})

	return domain.Outcome{Status: domain.JobStatusSucceeded, Result: &result, Transcript: transcript}
}

func (r *run) fail(ctx context.Context, cause error) domain.Outcome {
	transcript := r.snapshot()
	msg := cause.Error()
	out := domain.Outcome{Status: domain.JobStatusFailed, Error: msg, Transcript: transcript}
	if r.terminal {
		return out
	}
	r.terminal = true

	if errors.Is(cause, domain.ErrNoProviderConfigured) {
		r.o.logger.Error("no provider configured", "job_id", r.job.ID)
	}

	output, _ := json.Marshal(map[string]any{"transcript": transcript})
	ctx = context.WithoutCancel(ctx)
	r.report(ctx, domain.StatusUpdate{
		Status:   domain.JobStatusFailed,
		Progress: 0,
		Message:  "Failed: " + msg,
		Output:   output,
		Error:    &msg,
	})
	r.event(ctx, domain.EventFailed, msg, map[string]any{"error": msg})
	return out
}

func (r *run) report(ctx context.Context, update domain.StatusUpdate) {
	if err := r.o.reporter.UpdateStatus(ctx, r.job.ID, update); err != nil {
		r.o.logger.Warn("progress report dropped", "job_id", r.job.ID, "status", update.Status, "error", err)
	}
}

func (r *run) event(ctx context.Context, t domain.EventType, msg string, data any) {
	if err := r.o.reporter.LogEvent(ctx, r.job.ID, t, msg, data); err != nil {
		r.o.logger.Warn("job event dropped", "job_id", r.job.ID, "event_type", t, "error", err)
	}
}

func (r *run) snapshot() []domain.TranscriptEntry {
	return slices.Clone(r.transcript)
}

func (r *run) label() string {
	if g, ok := r.job.Input.(domain.GeneralTask); ok && g.Label != "" {
		return g.Label
	}
	switch r.job.Type {
	case domain.JobTypeCodeIteration:
		return "Code Iteration"
	case domain.JobTypeSpecialistDelegation:
		return "Specialist Delegation"
	}
	return "Agent Task"
}

// iterationProgress is min(90, round(iteration/max*100)).
func iterationProgress(iteration, limit int) int {
	if limit <= 0 {
		return 0
	}
	p := int(math.Round(float64(iteration) / float64(limit) * 100))
	if p > maxProgress {
		return maxProgress
	}
	return p
}

// toolPayload renders a tool result for the transcript and the next turn.
func toolPayload(res domain.ToolResult) string {
	if !res.Success {
		raw, _ := json.Marshal(map[string]string{"error": res.Error})
		return string(raw)
	}
	switch v := res.Data.(type) {
	case nil:
		return `{"success":true}`
	case string:
		return v
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	return string(raw)
}
