package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskInput is the closed set of job input shapes. The Orchestrator only
// switches on the concrete type once, when it builds the system prompt.
type TaskInput interface {
	Type() JobType
	// TaskDescription is the text seeded as the first user message.
	TaskDescription() string
	// IterationCap is the input's own iteration cap, 0 when unset.
	IterationCap() int
	isTaskInput()
}

// TaskContext is an opaque JSON object forwarded verbatim into the prompt.
// It is kept as raw bytes so key order survives.
type TaskContext = json.RawMessage

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// GeneralTask is a free-form task description.
type GeneralTask struct {
	Task          string      `json:"task"`
	Label         string      `json:"label,omitempty"`
	Category      string      `json:"category,omitempty"` // coding, research, product, general
	Priority      Priority    `json:"priority,omitempty"`
	MaxIterations int         `json:"max_iterations,omitempty"`
	Context       TaskContext `json:"context,omitempty"`
}

func (GeneralTask) Type() JobType             { return JobTypeGeneral }
func (t GeneralTask) TaskDescription() string { return t.Task }
func (t GeneralTask) IterationCap() int       { return t.MaxIterations }
func (GeneralTask) isTaskInput()              {}

// CodeIterationTask drives an analyze/modify/test loop inside a sandbox.
type CodeIterationTask struct {
	Goal          string `json:"goal"`
	SandboxID     string `json:"sandbox_id"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	TestCommand   string `json:"test_command,omitempty"`
	CommitChanges bool   `json:"commit_changes,omitempty"`
	StopOnSuccess bool   `json:"stop_on_success,omitempty"`
}

func (CodeIterationTask) Type() JobType             { return JobTypeCodeIteration }
func (t CodeIterationTask) TaskDescription() string { return t.Goal }
func (t CodeIterationTask) IterationCap() int       { return t.MaxIterations }
func (CodeIterationTask) isTaskInput()              {}

type Specialist string

const (
	SpecialistCodeReviewer        Specialist = "code-reviewer"
	SpecialistSecurityAuditor     Specialist = "security-auditor"
	SpecialistPerformanceAnalyst  Specialist = "performance-analyst"
	SpecialistDocumentationWriter Specialist = "documentation-writer"
	SpecialistTestGenerator       Specialist = "test-generator"
	SpecialistRefactoringExpert   Specialist = "refactoring-expert"
)

// SpecialistDelegationTask layers a named role prompt onto the base prompt.
type SpecialistDelegationTask struct {
	Specialist Specialist  `json:"specialist"`
	Task       string      `json:"task"`
	Context    TaskContext `json:"context,omitempty"`
}

func (SpecialistDelegationTask) Type() JobType             { return JobTypeSpecialistDelegation }
func (t SpecialistDelegationTask) TaskDescription() string { return t.Task }
func (SpecialistDelegationTask) IterationCap() int         { return 0 }
func (SpecialistDelegationTask) isTaskInput()              {}

// DecodeTaskInput decodes raw input using the job type as discriminant.
func DecodeTaskInput(jobType JobType, raw json.RawMessage) (TaskInput, error) {
	switch jobType {
	case JobTypeGeneral, "":
		var in GeneralTask
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode general task: %w", err)
		}
		return in, nil
	case JobTypeCodeIteration:
		var in CodeIterationTask
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode code iteration task: %w", err)
		}
		return in, nil
	case JobTypeSpecialistDelegation:
		var in SpecialistDelegationTask
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode specialist delegation task: %w", err)
		}
		return in, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
}

// ValidateTaskInput checks the fields each variant needs to run.
func ValidateTaskInput(in TaskInput) error {
	if in == nil {
		return fmt.Errorf("task input is required")
	}
	if strings.TrimSpace(in.TaskDescription()) == "" {
		switch in.(type) {
		case CodeIterationTask:
			return fmt.Errorf("goal is required")
		default:
			return fmt.Errorf("task is required")
		}
	}
	if ci, ok := in.(CodeIterationTask); ok && strings.TrimSpace(ci.SandboxID) == "" {
		return fmt.Errorf("sandbox_id is required for code_iteration jobs")
	}
	return nil
}
