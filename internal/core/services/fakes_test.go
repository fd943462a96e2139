package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockProviderClient scripts provider responses with testify's mock.
type MockProviderClient struct {
	mock.Mock
	mu       sync.Mutex
	requests []domain.ChatRequest
}

func (m *MockProviderClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	m.mu.Lock()
	req.Messages = append([]domain.Message(nil), req.Messages...)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	args := m.Called(ctx, req)
	return args.Get(0).(domain.ChatResponse), args.Error(1)
}

func (m *MockProviderClient) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

type staticFactory struct {
	client ports.ProviderClient
	err    error
	seen   []domain.ProviderSettings
}

func (f *staticFactory) ClientFor(settings domain.ProviderSettings) (ports.ProviderClient, error) {
	f.seen = append(f.seen, settings)
	return f.client, f.err
}

type recordedEvent struct {
	Type    domain.EventType
	Message string
	Data    any
}

// recordingReporter is an in-memory ProgressReporter.
type recordingReporter struct {
	mu        sync.Mutex
	updates   []domain.StatusUpdate
	events    []recordedEvent
	statusFn  func(call int) domain.JobStatus
	polls     int
	failWrite bool
}

func (r *recordingReporter) UpdateStatus(_ context.Context, _ domain.JobID, update domain.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	if r.failWrite {
		return errors.New("store unavailable")
	}
	return nil
}

func (r *recordingReporter) LogEvent(_ context.Context, _ domain.JobID, t domain.EventType, msg string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: t, Message: msg, Data: data})
	if r.failWrite {
		return errors.New("store unavailable")
	}
	return nil
}

func (r *recordingReporter) GetStatus(_ context.Context, _ domain.JobID) (domain.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.statusFn != nil {
		return r.statusFn(r.polls), nil
	}
	return domain.JobStatusRunning, nil
}

func (r *recordingReporter) terminalUpdates() []domain.StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StatusUpdate
	for _, u := range r.updates {
		if u.Status.IsTerminal() {
			out = append(out, u)
		}
	}
	return out
}

func (r *recordingReporter) eventTypes() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// countingTool returns a tool that records its calls and answers with fn.
func countingTool(name string, calls *int, fn func(params map[string]interface{}) (interface{}, error)) *domain.Tool {
	return &domain.Tool{
		Name:        name,
		Description: "test tool " + name,
		Parameters: domain.ToolParameters{
			Type:       "object",
			Properties: map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		},
		Execute: func(_ context.Context, _ domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			*calls++
			return fn(params)
		},
	}
}

func endTurn(text string) domain.ChatResponse {
	return domain.ChatResponse{StopReason: domain.StopEndTurn, Text: []string{text}, Model: "test-model"}
}

func toolUse(calls ...domain.ToolCallRequest) domain.ChatResponse {
	return domain.ChatResponse{StopReason: domain.StopToolUse, ToolCalls: calls, Model: "test-model"}
}

// memStore is an in-memory JobStore enforcing the same transition rules as
// the DuckDB repository.
type memStore struct {
	mu     sync.Mutex
	jobs   map[domain.JobID]domain.Job
	order  []domain.JobID
	events map[domain.JobID][]domain.JobEvent
}

func newMemStore(jobs ...domain.Job) *memStore {
	s := &memStore{jobs: map[domain.JobID]domain.Job{}, events: map[domain.JobID][]domain.JobEvent{}}
	for _, j := range jobs {
		_ = s.CreateJob(context.Background(), j)
	}
	return s
}

func (s *memStore) CreateJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.jobs[s.order[i]])
	}
	return out, nil
}

func (s *memStore) UpdateJobStatus(_ context.Context, id domain.JobID, u domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(u.Status) {
		return &domain.TransitionError{From: job.Status, To: u.Status}
	}
	job.Status = u.Status
	job.Progress = u.Progress
	job.ProgressMessage = u.Message
	if u.Output != nil {
		job.Output = u.Output
	}
	if u.Error != nil {
		job.Error = u.Error
	}
	if u.Status.IsTerminal() {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	s.jobs[id] = job
	return nil
}

func (s *memStore) LogJobEvent(_ context.Context, e domain.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.JobID] = append(s.events[e.JobID], e)
	return nil
}

func (s *memStore) ListJobEvents(_ context.Context, id domain.JobID) ([]domain.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobEvent(nil), s.events[id]...), nil
}

func (s *memStore) status(id domain.JobID) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}
