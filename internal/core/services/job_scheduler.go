package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when the pending queue cannot take another job.
var ErrQueueFull = errors.New("scheduling queue full")

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxConcurrentRuns int64
	QueueSize         int
}

// JobScheduler runs submitted jobs on a bounded pool.
type JobScheduler struct {
	logger       *slog.Logger
	pendingQueue chan domain.JobID
	semaphore    *semaphore.Weighted
	inflight     sync.WaitGroup
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	limit := cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = 10
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}

	return &JobScheduler{
		logger:       logger,
		pendingQueue: make(chan domain.JobID, size),
		semaphore:    semaphore.NewWeighted(limit),
	}
}

// SubmitJob adds a job to the scheduling queue
func (s *JobScheduler) SubmitJob(_ context.Context, id domain.JobID) error {
	select {
	case s.pendingQueue <- id:
		s.logger.Info("job submitted", "job_id", id)
		return nil
	default:
		return ErrQueueFull
	}
}

// Start consumes the queue until ctx is done, running handler for each job
// while holding one semaphore slot.
func (s *JobScheduler) Start(ctx context.Context, handler func(context.Context, domain.JobID)) {
	s.logger.Info("starting job scheduler")

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping scheduler")
				return
			case id := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					s.logger.Warn("scheduler stopped before job could start", "job_id", id, "error", err)
					return
				}

				s.inflight.Add(1)
				go func(id domain.JobID) {
					defer s.inflight.Done()
					defer s.semaphore.Release(1)
					handler(ctx, id)
				}(id)
			}
		}
	}()
}

// Wait blocks until every started handler has returned.
func (s *JobScheduler) Wait() {
	s.inflight.Wait()
}
