package workflow

import "time"

// EventType identifies a workflow stream event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowError     EventType = "workflow_error"
)

// Event is one item in a workflow's run stream.
type Event struct {
	Type         EventType   `json:"type"`
	WorkflowName string      `json:"workflow_name"`
	RunID        string      `json:"run_id"`
	StepName     string      `json:"step_name,omitempty"`
	Output       *StepOutput `json:"output,omitempty"`
	Result       *Output     `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

func newEvent(typ EventType, name, runID string, event Event) Event {
	event.Type = typ
	event.WorkflowName = name
	event.RunID = runID
	event.Timestamp = time.Now().UTC()
	return event
}
