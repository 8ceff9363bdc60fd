// Package workflow provides deterministic multi-step orchestration.
//
// A Workflow is an ordered list of executors. Each executor receives the
// previous step's output and produces its own, so steps form a chain:
//
//	wf, _ := workflow.New(workflow.Config{
//	    Name: "research",
//	    Steps: []workflow.Executor{
//	        workflow.NewAgentStep("gather", researcher),
//	        workflow.NewFuncStep("format", formatFn),
//	        workflow.NewAgentStep("write", writer),
//	    },
//	})
//	out, err := wf.Run(ctx, &workflow.ExecutionInput{Input: "quantum computing"})
//
// Composite executors (Steps, Condition, Loop, Parallel, Router) nest
// arbitrarily, so a workflow step can itself be a loop of parallel steps.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/storage"
)

// ExecutionInput carries the data flowing into an executor. Input is the
// original workflow input and never changes; PreviousOutput is the content
// produced by the step before this one.
type ExecutionInput struct {
	Input          string         `json:"input"`
	SessionID      string         `json:"session_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	PreviousOutput string         `json:"previous_output,omitempty"`
	State          map[string]any `json:"state,omitempty"`
}

// Message returns the effective input for a step: the previous step's
// output when one exists, otherwise the original workflow input.
func (in *ExecutionInput) Message() string {
	if in.PreviousOutput != "" {
		return in.PreviousOutput
	}
	return in.Input
}

// next derives the input for the following step from a step's output.
func (in *ExecutionInput) next(content string) *ExecutionInput {
	out := *in
	out.PreviousOutput = content
	return &out
}

// StepOutput is what a single executor produced.
type StepOutput struct {
	StepName string `json:"step_name"`
	Content  string `json:"content"`
}

// Executor runs one unit of a workflow. Step, Steps, Condition, Loop,
// Parallel and Router all implement it.
type Executor interface {
	Name() string
	Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error)
}

// Output is the result of a full workflow run.
type Output struct {
	RunID       string        `json:"run_id"`
	SessionID   string        `json:"session_id,omitempty"`
	Content     string        `json:"content"`
	StepOutputs []*StepOutput `json:"step_outputs"`
	Duration    time.Duration `json:"duration"`
}

// Config configures a Workflow.
type Config struct {
	Name        string
	Description string
	Steps       []Executor

	// Storage persists one run record per workflow execution when set.
	Storage storage.Service
	AppName string
}

// Workflow runs its steps in order, threading each step's output into the
// next step's input.
type Workflow struct {
	name        string
	description string
	steps       []Executor
	storage     storage.Service
	appName     string
}

func New(cfg Config) (*Workflow, error) {
	if cfg.Name == "" {
		return nil, errors.New("workflow: name is required")
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q: at least one step is required", cfg.Name)
	}
	appName := cfg.AppName
	if appName == "" {
		appName = cfg.Name
	}
	return &Workflow{
		name:        cfg.Name,
		description: cfg.Description,
		steps:       cfg.Steps,
		storage:     cfg.Storage,
		appName:     appName,
	}, nil
}

func (w *Workflow) Name() string        { return w.name }
func (w *Workflow) Description() string { return w.description }

// Run executes the workflow and blocks until it finishes. The returned
// Output carries the final step's content plus every intermediate output.
func (w *Workflow) Run(ctx context.Context, input *ExecutionInput) (*Output, error) {
	events, err := w.RunStream(ctx, input)
	if err != nil {
		return nil, err
	}

	var out *Output
	for event := range events {
		switch event.Type {
		case EventWorkflowCompleted:
			out = event.Result
		case EventWorkflowError:
			return nil, errors.New(event.Error)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("workflow %q: stream ended without a result", w.name)
	}
	return out, nil
}

// RunStream executes the workflow and emits events as steps start and
// finish. The channel is closed after a terminal event.
func (w *Workflow) RunStream(ctx context.Context, input *ExecutionInput) (<-chan Event, error) {
	if input == nil || input.Input == "" {
		return nil, errors.New("workflow: input is required")
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		w.run(ctx, input, events)
	}()
	return events, nil
}

func (w *Workflow) run(ctx context.Context, input *ExecutionInput, events chan<- Event) {
	runID := uuid.NewString()
	started := time.Now()

	ctx, span := observability.Tracer("petrel.workflow").Start(ctx, observability.SpanWorkflowRun)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrWorkflowName, w.name))

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		events <- newEvent(EventWorkflowError, w.name, runID, Event{Error: err.Error()})
	}

	events <- newEvent(EventWorkflowStarted, w.name, runID, Event{})

	current := &ExecutionInput{
		Input:     input.Input,
		SessionID: input.SessionID,
		UserID:    input.UserID,
		State:     input.State,
	}

	stepOutputs := make([]*StepOutput, 0, len(w.steps))
	for _, step := range w.steps {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		events <- newEvent(EventStepStarted, w.name, runID, Event{StepName: step.Name()})

		out, err := step.Execute(ctx, current)
		if err != nil {
			fail(fmt.Errorf("step %q: %w", step.Name(), err))
			return
		}

		events <- newEvent(EventStepCompleted, w.name, runID, Event{StepName: step.Name(), Output: out})
		stepOutputs = append(stepOutputs, out)
		current = current.next(out.Content)
	}

	result := &Output{
		RunID:       runID,
		SessionID:   input.SessionID,
		Content:     current.PreviousOutput,
		StepOutputs: stepOutputs,
		Duration:    time.Since(started),
	}

	if err := w.persistRun(ctx, input, result); err != nil {
		slog.Warn("failed to persist workflow run",
			"workflow", w.name, "session_id", input.SessionID, "error", err)
	}

	events <- newEvent(EventWorkflowCompleted, w.name, runID, Event{Result: result})
}

// persistRun records the execution as a run on the session. A persistence
// failure does not fail the run.
func (w *Workflow) persistRun(ctx context.Context, input *ExecutionInput, result *Output) error {
	if w.storage == nil || input.SessionID == "" {
		return nil
	}

	session, err := w.loadSession(ctx, input)
	if err != nil {
		return err
	}
	return w.storage.AppendRun(ctx, session, &storage.Run{
		ID:        result.RunID,
		AgentName: w.name,
		Input:     input.Input,
		Output:    result.Content,
		Metrics:   storage.RunMetrics{Duration: result.Duration},
		CreatedAt: time.Now().UTC(),
	})
}

func (w *Workflow) loadSession(ctx context.Context, input *ExecutionInput) (*storage.Session, error) {
	resp, err := w.storage.Get(ctx, &storage.GetRequest{
		AppName:   w.appName,
		UserID:    input.UserID,
		SessionID: input.SessionID,
	})
	if err == nil {
		return resp.Session, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, err
	}

	created, err := w.storage.Create(ctx, &storage.CreateRequest{
		AppName:   w.appName,
		UserID:    input.UserID,
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, err
	}
	return created.Session, nil
}

// joinOutputs concatenates parallel step outputs in declaration order.
func joinOutputs(outputs []*StepOutput) string {
	parts := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if out.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", out.StepName, out.Content))
	}
	return strings.Join(parts, "\n\n")
}
