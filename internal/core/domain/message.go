package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolUsePlaceholder stands in for assistant turns that only requested tools.
const ToolUsePlaceholder = "[tool use]"

// Message is one turn of the provider conversation.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
}

// ToolCallRequest is emitted by the provider inside an assistant turn.
// Arguments are validated by the tool, not by the loop.
type ToolCallRequest struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is what the Tool Invoker hands back for a single call.
type ToolResult struct {
	ToolCallID string      `json:"tool_call_id"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// TranscriptEntry is the persisted, externally visible record of a turn.
type TranscriptEntry struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunResult is the payload of a successful run.
type RunResult struct {
	Summary    string `json:"summary"`
	Iterations int    `json:"iterations"`
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Outcome is the only thing a run returns. Status is succeeded, failed or
// cancelled; panics and unexpected errors come back as failed.
type Outcome struct {
	Status     JobStatus         `json:"status"`
	Result     *RunResult        `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Transcript []TranscriptEntry `json:"transcript"`
	// Provider labels the backend the run used, empty if none resolved.
	Provider string `json:"provider,omitempty"`
	// Skipped is set when the job was already terminal and nothing ran.
	Skipped bool `json:"skipped,omitempty"`
}
