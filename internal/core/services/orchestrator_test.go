package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

type orchestratorFixture struct {
	client   *MockProviderClient
	factory  *staticFactory
	reporter *recordingReporter
	registry *domain.ToolRegistry
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	logger := discardLogger()
	f := &orchestratorFixture{
		client:   new(MockProviderClient),
		reporter: &recordingReporter{},
		registry: domain.NewToolRegistry(),
	}
	f.factory = &staticFactory{client: f.client}
	f.orch = NewOrchestrator(
		logger,
		NewProviderSelector(logger, nil),
		f.factory,
		NewRegistryInvoker(logger, f.registry),
		f.reporter,
		OrchestratorConfig{},
	)
	return f
}

func generalJob(task string, maxIters int) domain.Job {
	return domain.Job{
		ID:            "job-1",
		Type:          domain.JobTypeGeneral,
		Input:         domain.GeneralTask{Task: task},
		OwnerID:       "user-1",
		MaxIterations: maxIters,
		Status:        domain.JobStatusQueued,
	}
}

var localExec = domain.ExecContext{Local: true}

func TestOrchestrator_EndTurnOnFirstCall(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("done"), nil).Once()

	out := f.orch.Run(context.Background(), generalJob("list files", 0), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	require.NotNil(t, out.Result)
	assert.Equal(t, "done", out.Result.Summary)
	assert.Equal(t, 1, out.Result.Iterations)
	assert.Equal(t, "test-model", out.Result.Model)
	require.Len(t, out.Transcript, 2)
	assert.Equal(t, domain.RoleUser, out.Transcript[0].Role)
	assert.Equal(t, "list files", out.Transcript[0].Content)
	assert.Equal(t, domain.RoleAssistant, out.Transcript[1].Role)
	assert.Equal(t, "done", out.Transcript[1].Content)

	terminal := f.reporter.terminalUpdates()
	require.Len(t, terminal, 1)
	assert.Equal(t, domain.JobStatusSucceeded, terminal[0].Status)
	assert.Equal(t, 100, terminal[0].Progress)

	var output struct {
		Result     domain.RunResult         `json:"result"`
		Transcript []domain.TranscriptEntry `json:"transcript"`
		Provider   string                   `json:"provider"`
	}
	require.NoError(t, json.Unmarshal(terminal[0].Output, &output))
	assert.Equal(t, "done", output.Result.Summary)
	assert.Len(t, output.Transcript, 2)
	assert.Equal(t, "messages", output.Provider)

	assert.Equal(t, []domain.EventType{
		domain.EventStarted, domain.EventIteration, domain.EventCompleted,
	}, f.reporter.eventTypes())

	reqs := f.client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.DefaultModel, reqs[0].Model)
	assert.Equal(t, domain.DefaultMaxTokens, reqs[0].MaxTokens)
	assert.InDelta(t, domain.DefaultTemperature, reqs[0].Temperature, 0.0001)
	assert.Equal(t, domain.DefaultProviderTimeout, reqs[0].Timeout)
	assert.Contains(t, reqs[0].System, "Autonomous Execution Mode")
}

func TestOrchestrator_FailedToolIsFoldedBack(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("read_file", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return nil, errors.New("not found")
	})))

	f.client.On("Chat", mock.Anything, mock.Anything).
		Return(toolUse(domain.ToolCallRequest{ID: "call-1", Name: "read_file", Arguments: map[string]interface{}{"path": "x"}}), nil).Once()
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("couldn't find it"), nil).Once()

	out := f.orch.Run(context.Background(), generalJob("read x", 0), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.Equal(t, "couldn't find it", out.Result.Summary)
	assert.Equal(t, 1, toolCalls)

	var toolEntry *domain.TranscriptEntry
	for i := range out.Transcript {
		if out.Transcript[i].Role == domain.RoleTool {
			toolEntry = &out.Transcript[i]
		}
	}
	require.NotNil(t, toolEntry)
	assert.Contains(t, toolEntry.Content, "not found")
	assert.Equal(t, "call-1", toolEntry.ToolCallID)
	assert.Equal(t, "read_file", toolEntry.ToolName)

	// user, assistant placeholder, tool, assistant
	require.Len(t, out.Transcript, 4)
	assert.Equal(t, domain.ToolUsePlaceholder, out.Transcript[1].Content)

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Tool execution results:\n\n"))
	assert.Contains(t, last.Content, "Tool read_file result: FAILED\n")
	assert.True(t, strings.HasSuffix(last.Content, "\n\nContinue with the task."))
}

func TestOrchestrator_ProviderErrorFailsRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.client.On("Chat", mock.Anything, mock.Anything).Return(domain.ChatResponse{}, &domain.ProviderError{
		Provider: "messages",
		Cause:    errors.New("connection refused"),
	}).Once()

	out := f.orch.Run(context.Background(), generalJob("anything", 0), localExec)

	require.Equal(t, domain.JobStatusFailed, out.Status)
	assert.Contains(t, out.Error, "connection refused")
	assert.NotEmpty(t, out.Transcript)

	terminal := f.reporter.terminalUpdates()
	require.Len(t, terminal, 1)
	assert.Equal(t, domain.JobStatusFailed, terminal[0].Status)
	assert.Equal(t, 0, terminal[0].Progress)
	require.NotNil(t, terminal[0].Error)
	assert.Contains(t, *terminal[0].Error, "connection refused")
	assert.True(t, strings.HasPrefix(terminal[0].Message, "Failed: "))

	assert.Contains(t, f.reporter.eventTypes(), domain.EventError)
	assert.Contains(t, f.reporter.eventTypes(), domain.EventFailed)
	f.client.AssertNumberOfCalls(t, "Chat", 1)
}

func TestOrchestrator_ToolFailureDoesNotAbort(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("flaky", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return nil, errors.New("always broken")
	})))

	call := domain.ToolCallRequest{Name: "flaky"}
	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(call), nil).Twice()
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("gave up"), nil).Once()

	out := f.orch.Run(context.Background(), generalJob("try twice", 0), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.Equal(t, 2, toolCalls)
	f.client.AssertNumberOfCalls(t, "Chat", 3)

	// Missing provider ids get generated ones.
	for _, e := range out.Transcript {
		if e.Role == domain.RoleTool {
			assert.True(t, strings.HasPrefix(e.ToolCallID, "call_"))
		}
	}
}

func TestOrchestrator_CancellationStopsBeforeNextIteration(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("list_files", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return []string{"a.go"}, nil
	})))
	f.reporter.statusFn = func(int) domain.JobStatus { return domain.JobStatusCancelled }

	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(domain.ToolCallRequest{ID: "c1", Name: "list_files"}), nil)

	out := f.orch.Run(context.Background(), generalJob("loop forever", 5), localExec)

	assert.Equal(t, domain.JobStatusCancelled, out.Status)
	f.client.AssertNumberOfCalls(t, "Chat", 1)
	assert.Equal(t, 1, toolCalls)
	assert.Empty(t, f.reporter.terminalUpdates(), "cancellation must not be overwritten")
	assert.NotContains(t, f.reporter.eventTypes(), domain.EventCompleted)
	assert.NotContains(t, f.reporter.eventTypes(), domain.EventFailed)
	assert.Len(t, out.Transcript, 3)
}

func TestOrchestrator_IterationCap(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("list_files", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"files": []string{"a.go"}}, nil
	})))
	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(domain.ToolCallRequest{Name: "list_files"}), nil)

	out := f.orch.Run(context.Background(), generalJob("never ends", 3), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	f.client.AssertNumberOfCalls(t, "Chat", 3)
	assert.Equal(t, 3, toolCalls)
	assert.Equal(t, iterationCapSummary, out.Result.Summary)
	assert.Equal(t, iterationCapNote, out.Result.Note)
	assert.Equal(t, 3, out.Result.Iterations)

	terminal := f.reporter.terminalUpdates()
	require.Len(t, terminal, 1)
	assert.Equal(t, 100, terminal[0].Progress)
}

func TestOrchestrator_ProgressIsMonotonicAndCapped(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("noop", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return nil, nil
	})))
	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(domain.ToolCallRequest{Name: "noop"}), nil)

	out := f.orch.Run(context.Background(), generalJob("spin", 4), localExec)
	require.Equal(t, domain.JobStatusSucceeded, out.Status)

	last := -1
	for _, u := range f.reporter.updates {
		if u.Status.IsTerminal() {
			assert.Equal(t, 100, u.Progress)
			continue
		}
		assert.Equal(t, domain.JobStatusRunning, u.Status)
		assert.GreaterOrEqual(t, u.Progress, last)
		assert.LessOrEqual(t, u.Progress, 90)
		last = u.Progress
	}
	assert.Equal(t, 90, last)
}

func TestOrchestrator_NoProviderConfigured(t *testing.T) {
	f := newOrchestratorFixture(t)

	out := f.orch.Run(context.Background(), generalJob("anything", 0), domain.ExecContext{})

	require.Equal(t, domain.JobStatusFailed, out.Status)
	assert.Contains(t, out.Error, domain.ErrNoProviderConfigured.Error())
	require.Len(t, out.Transcript, 1)

	for _, u := range f.reporter.updates {
		assert.NotEqual(t, domain.JobStatusRunning, u.Status, "must not enter running")
	}
	require.Len(t, f.reporter.terminalUpdates(), 1)
	assert.Empty(t, f.factory.seen)
	f.client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestOrchestrator_TerminalJobIsNoop(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := generalJob("done already", 0)
	job.Status = domain.JobStatusSucceeded

	out := f.orch.Run(context.Background(), job, localExec)

	assert.True(t, out.Skipped)
	assert.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.NotEmpty(t, out.Transcript)
	assert.Empty(t, f.reporter.updates)
	assert.Empty(t, f.reporter.events)
	f.client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestOrchestrator_PanicBecomesFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.client.On("Chat", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(domain.ChatResponse{}, nil)

	out := f.orch.Run(context.Background(), generalJob("explode", 0), localExec)

	require.Equal(t, domain.JobStatusFailed, out.Status)
	assert.Contains(t, out.Error, "boom")
	terminal := f.reporter.terminalUpdates()
	require.Len(t, terminal, 1)
	assert.Equal(t, domain.JobStatusFailed, terminal[0].Status)
}

func TestOrchestrator_ReportingFailuresAreSwallowed(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.reporter.failWrite = true
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("still fine"), nil).Once()

	out := f.orch.Run(context.Background(), generalJob("report nothing", 0), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.Equal(t, "still fine", out.Result.Summary)
	assert.Len(t, f.reporter.terminalUpdates(), 1)
}

func TestOrchestrator_UnknownToolSuggestsName(t *testing.T) {
	f := newOrchestratorFixture(t)
	var toolCalls int
	require.NoError(t, f.registry.Register(countingTool("read_file", &toolCalls, func(map[string]interface{}) (interface{}, error) {
		return "content", nil
	})))
	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(domain.ToolCallRequest{ID: "c1", Name: "read_files"}), nil).Once()
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("ok"), nil).Once()

	out := f.orch.Run(context.Background(), generalJob("typo", 0), localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.Equal(t, 0, toolCalls)
	assert.Contains(t, out.Transcript[2].Content, "did you mean read_file")
}

func TestOrchestrator_CodeIterationScope(t *testing.T) {
	f := newOrchestratorFixture(t)
	var seen domain.CallerScope
	require.NoError(t, f.registry.Register(&domain.Tool{
		Name: "sandbox_exec",
		Execute: func(_ context.Context, scope domain.CallerScope, _ map[string]interface{}) (interface{}, error) {
			seen = scope
			return "ok", nil
		},
		MinAccess: domain.AccessOwner,
	}))
	f.client.On("Chat", mock.Anything, mock.Anything).Return(toolUse(domain.ToolCallRequest{Name: "sandbox_exec"}), nil).Once()
	f.client.On("Chat", mock.Anything, mock.Anything).Return(endTurn("tests pass"), nil).Once()

	job := domain.Job{
		ID:      "job-ci",
		Type:    domain.JobTypeCodeIteration,
		Input:   domain.CodeIterationTask{Goal: "make tests pass", SandboxID: "sbx-9"},
		OwnerID: "owner-7",
		Status:  domain.JobStatusQueued,
	}
	out := f.orch.Run(context.Background(), job, localExec)

	require.Equal(t, domain.JobStatusSucceeded, out.Status)
	assert.Equal(t, "owner-7", seen.UserID)
	assert.Equal(t, domain.JobID("job-ci"), seen.JobID)
	assert.Equal(t, "sbx-9", seen.SandboxID)
	assert.Equal(t, domain.AccessOwner, seen.AccessLevel)
	assert.Equal(t, "make tests pass", out.Transcript[0].Content)

	reqs := f.client.Requests()
	assert.Contains(t, reqs[0].System, "Sandbox ID: sbx-9")
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "sandbox_exec", reqs[0].Tools[0].Name)
}

func TestIterationProgress(t *testing.T) {
	assert.Equal(t, 10, iterationProgress(1, 10))
	assert.Equal(t, 50, iterationProgress(5, 10))
	assert.Equal(t, 90, iterationProgress(9, 10))
	assert.Equal(t, 90, iterationProgress(10, 10))
	assert.Equal(t, 33, iterationProgress(1, 3))
	assert.Equal(t, 67, iterationProgress(2, 3))
	assert.Equal(t, 0, iterationProgress(1, 0))
}
