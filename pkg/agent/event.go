package agent

import (
	"time"

	"github.com/petrelhq/petrel/pkg/protocol"
)

// EventType identifies a run event.
type EventType string

const (
	// EventRunStarted opens every event stream.
	EventRunStarted EventType = "run_started"

	// EventContent carries one streamed text delta.
	EventContent EventType = "content"

	// EventThinking carries one streamed reasoning delta.
	EventThinking EventType = "thinking"

	// EventToolCallStarted fires before a tool executes.
	EventToolCallStarted EventType = "tool_call_started"

	// EventToolCallCompleted fires after a tool returns.
	EventToolCallCompleted EventType = "tool_call_completed"

	// EventMemoryUpdated fires after long-term memory upkeep.
	EventMemoryUpdated EventType = "memory_updated"

	// EventRunCompleted closes a successful stream and carries the full
	// output.
	EventRunCompleted EventType = "run_completed"

	// EventRunError closes a failed stream.
	EventRunError EventType = "run_error"
)

// Event is one entry in a run's event stream. The producer closes the
// channel after a run_completed or run_error event.
type Event struct {
	Type      EventType `json:"type"`
	AgentName string    `json:"agent_name"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the text delta for content and thinking events.
	Content string `json:"content,omitempty"`

	// ToolCall and ToolResult accompany tool events.
	ToolCall   *protocol.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *protocol.ToolResult `json:"tool_result,omitempty"`

	// Output accompanies run_completed.
	Output *RunOutput `json:"output,omitempty"`

	// Error accompanies run_error.
	Error string `json:"error,omitempty"`
}

func newEvent(eventType EventType, agentName, runID, sessionID string) Event {
	return Event{
		Type:      eventType,
		AgentName: agentName,
		RunID:     runID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}
