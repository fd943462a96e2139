package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
// Repeated running updates are allowed so progress can be reported.
// A queued job may fail before it ever runs (no provider configured) and may
// be cancelled before it is picked up.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusRunning || next.IsTerminal()
	}
	return false
}

// JobType is the discriminant of TaskInput.
type JobType string

const (
	JobTypeGeneral              JobType = "general"
	JobTypeCodeIteration        JobType = "code_iteration"
	JobTypeSpecialistDelegation JobType = "specialist_delegation"
)

// DefaultMaxIterations applies when neither the job nor its input sets a cap.
const DefaultMaxIterations = 10

// Job represents one tracked unit of agent work.
type Job struct {
	ID              JobID           `json:"id"`
	Type            JobType         `json:"type"`
	Input           TaskInput       `json:"-"`
	OwnerID         string          `json:"owner_id"`
	MaxIterations   int             `json:"max_iterations,omitempty"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// EffectiveMaxIterations resolves the iteration cap: job override, then the
// input's own cap, then DefaultMaxIterations.
func (j Job) EffectiveMaxIterations() int {
	if j.MaxIterations > 0 {
		return j.MaxIterations
	}
	if j.Input != nil {
		if n := j.Input.IterationCap(); n > 0 {
			return n
		}
	}
	return DefaultMaxIterations
}

// MarshalJSON embeds the task input under "input" so the job type acts as the
// discriminant on the wire.
func (j Job) MarshalJSON() ([]byte, error) {
	type alias Job
	var input json.RawMessage
	if j.Input != nil {
		raw, err := json.Marshal(j.Input)
		if err != nil {
			return nil, err
		}
		input = raw
	}
	return json.Marshal(struct {
		alias
		Input json.RawMessage `json:"input,omitempty"`
	}{alias: alias(j), Input: input})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := struct {
		*alias
		Input json.RawMessage `json:"input,omitempty"`
	}{alias: (*alias)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Input) == 0 {
		return nil
	}
	input, err := DecodeTaskInput(j.Type, aux.Input)
	if err != nil {
		return err
	}
	j.Input = input
	return nil
}

// StatusUpdate is a single write to a job's status fields.
type StatusUpdate struct {
	Status   JobStatus
	Progress int
	Message  string
	Output   json.RawMessage
	Error    *string
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobAlreadyRunning = errors.New("job already has an active run")
	ErrUnknownJobType    = errors.New("unknown job type")
	ErrInvalidJobInput   = errors.New("invalid job input")
)

// TransitionError carries the rejected edge.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job status %s -> %s is not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
