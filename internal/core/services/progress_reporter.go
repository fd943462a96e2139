package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

// JobProgressReporter writes run progress to the job store and fans events
// out to live publishers. Publisher failures are logged and swallowed.
type JobProgressReporter struct {
	logger     *slog.Logger
	store      ports.JobStore
	publishers []ports.EventPublisher
}

func NewJobProgressReporter(logger *slog.Logger, store ports.JobStore, publishers ...ports.EventPublisher) *JobProgressReporter {
	return &JobProgressReporter{
		logger:     logger,
		store:      store,
		publishers: publishers,
	}
}

// UpdateStatus persists a status write and announces it to live subscribers.
func (r *JobProgressReporter) UpdateStatus(ctx context.Context, id domain.JobID, update domain.StatusUpdate) error {
	if err := r.store.UpdateJobStatus(ctx, id, update); err != nil {
		r.logger.Error("failed to update job status",
			"job_id", id,
			"status", update.Status,
			"error", err,
		)
		return fmt.Errorf("update job %s: %w", id, err)
	}

	data, _ := json.Marshal(map[string]any{
		"status":   update.Status,
		"progress": update.Progress,
	})
	r.publish(ctx, domain.JobEvent{
		ID:        uuid.NewString(),
		JobID:     id,
		Type:      domain.EventStatus,
		Message:   update.Message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// LogEvent appends to the job's event log. data is marshaled to JSON.
func (r *JobProgressReporter) LogEvent(ctx context.Context, id domain.JobID, eventType domain.EventType, message string, data any) error {
	event := domain.JobEvent{
		ID:        uuid.NewString(),
		JobID:     id,
		Type:      eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			r.logger.Warn("event data not serializable", "job_id", id, "event_type", eventType, "error", err)
		} else {
			event.Data = raw
		}
	}

	if err := r.store.LogJobEvent(ctx, event); err != nil {
		r.logger.Error("failed to log job event",
			"job_id", id,
			"event_type", eventType,
			"error", err,
		)
		return fmt.Errorf("log event for job %s: %w", id, err)
	}

	r.publish(ctx, event)
	return nil
}

// GetStatus reads the current status. Used for cancellation polling only.
func (r *JobProgressReporter) GetStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get job %s: %w", id, err)
	}
	return job.Status, nil
}

func (r *JobProgressReporter) publish(ctx context.Context, event domain.JobEvent) {
	for _, p := range r.publishers {
		if err := p.Publish(ctx, event); err != nil {
			r.logger.Warn("failed to publish job event",
				"job_id", event.JobID,
				"event_type", event.Type,
				"error", err,
			)
		}
	}
}
