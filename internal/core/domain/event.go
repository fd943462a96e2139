package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStarted    EventType = "started"
	EventIteration  EventType = "iteration"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	// EventStatus is only published to live subscribers, never stored.
	EventStatus EventType = "status"
)

// JobEvent is one entry of a job's append-only event log.
type JobEvent struct {
	ID        string          `json:"id"`
	JobID     JobID           `json:"job_id"`
	Type      EventType       `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
