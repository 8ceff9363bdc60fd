// Package agent runs the core loop: an agent binds a model, tools,
// instructions, session storage, memory, and knowledge, and executes
// bounded tool-calling runs that stream typed events.
package agent

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
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/knowledge"
	"github.com/petrelhq/petrel/pkg/memory"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/protocol"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/tools"
)

// RunInput carries one user request into an agent.
type RunInput struct {
	// Input is the user's message.
	Input string

	// SessionID resumes an existing session; empty starts a new one.
	SessionID string

	// UserID scopes session state and long-term memory.
	UserID string

	// Output, when set, constrains the final response to a JSON schema.
	Output *models.OutputSchema
}

// RunOutput is the result of a completed run.
type RunOutput struct {
	RunID     string              `json:"run_id"`
	SessionID string              `json:"session_id,omitempty"`
	Content   string              `json:"content"`
	Messages  []*protocol.Message `json:"messages,omitempty"`
	Metrics   storage.RunMetrics  `json:"metrics"`
}

// Dependencies are the collaborators an agent is wired with. Storage,
// Memory, and Knowledge are optional.
type Dependencies struct {
	Model     models.Model
	Tools     *tools.Registry
	Storage   storage.Service
	Memory    *memory.Manager
	Knowledge *knowledge.Knowledge
}

// Agent executes runs against one model with one set of tools.
type Agent struct {
	name      string
	cfg       *config.AgentConfig
	model     models.Model
	tools     *tools.Registry
	toolDefs  []models.ToolDefinition
	storage   storage.Service
	memory    *memory.Manager
	working   memory.WorkingStrategy
	knowledge *knowledge.Knowledge
	appName   string
}

// New wires an agent from config and dependencies.
func New(name, appName string, cfg *config.AgentConfig, deps Dependencies) (*Agent, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("agent %s: model is required", name)
	}

	var toolDefs []models.ToolDefinition
	if deps.Tools != nil && len(cfg.Tools) > 0 {
		defs, err := deps.Tools.Definitions(cfg.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		toolDefs = defs
	}

	working := memory.WorkingStrategy(&memory.BufferWindow{})
	if cfg.Memory != nil {
		strategy, err := memory.NewWorkingStrategy(&cfg.Memory.Working, deps.Model)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		working = strategy
	}

	return &Agent{
		name:      name,
		cfg:       cfg,
		model:     deps.Model,
		tools:     deps.Tools,
		toolDefs:  toolDefs,
		storage:   deps.Storage,
		memory:    deps.Memory,
		working:   working,
		knowledge: deps.Knowledge,
		appName:   appName,
	}, nil
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.cfg.Description }

// Run executes a request to completion and returns the final output.
func (a *Agent) Run(ctx context.Context, input *RunInput) (*RunOutput, error) {
	events, err := a.RunStream(ctx, input)
	if err != nil {
		return nil, err
	}

	for event := range events {
		switch event.Type {
		case EventRunCompleted:
			return event.Output, nil
		case EventRunError:
			return nil, fmt.Errorf("%s", event.Error)
		}
	}
	return nil, fmt.Errorf("event stream closed without completion")
}

// RunStream executes a request and streams events. The channel closes
// after a run_completed or run_error event.
func (a *Agent) RunStream(ctx context.Context, input *RunInput) (<-chan Event, error) {
	if input == nil || strings.TrimSpace(input.Input) == "" {
		return nil, fmt.Errorf("input is required")
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		a.run(ctx, input, events)
	}()
	return events, nil
}

func (a *Agent) run(ctx context.Context, input *RunInput, events chan<- Event) {
	start := time.Now()
	runID := uuid.NewString()

	tracer := observability.Tracer("petrel.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, a.name)),
	)
	defer span.End()

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordAgentRun(ctx, a.name, time.Since(start), 0, err)

		event := newEvent(EventRunError, a.name, runID, input.SessionID)
		event.Error = err.Error()
		events <- event
	}

	session, err := a.loadSession(ctx, input)
	if err != nil {
		fail(err)
		return
	}
	sessionID := input.SessionID
	if session != nil {
		sessionID = session.ID
		span.SetAttributes(attribute.String(observability.AttrSessionID, sessionID))
	}

	events <- newEvent(EventRunStarted, a.name, runID, sessionID)

	messages, err := a.buildMessages(ctx, input, session)
	if err != nil {
		fail(err)
		return
	}

	userMsg := protocol.NewUserMessage(input.Input)
	messages = append(messages, userMsg)

	// runMessages are the messages this run produced, persisted with it.
	runMessages := []*protocol.Message{userMsg}

	var content strings.Builder
	usage := models.Usage{}

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		text, toolCalls, callUsage, err := a.callModel(ctx, input, messages, events, runID, sessionID)
		if err != nil {
			fail(err)
			return
		}

		usage.InputTokens += callUsage.InputTokens
		usage.OutputTokens += callUsage.OutputTokens

		if text != "" {
			content.WriteString(text)
		}

		if len(toolCalls) == 0 {
			break
		}

		callMsg := protocol.NewToolCallMessage(toolCalls)
		if text != "" {
			callMsg.Parts = []protocol.Part{{Type: protocol.PartTypeText, Text: text}}
		}
		messages = append(messages, callMsg)
		runMessages = append(runMessages, callMsg)

		results := a.executeTools(ctx, toolCalls, events, runID, sessionID)
		resultMsg := protocol.NewToolResultMessage(results)
		messages = append(messages, resultMsg)
		runMessages = append(runMessages, resultMsg)
	}

	final := content.String()
	assistantMsg := protocol.NewAssistantMessage(final)
	runMessages = append(runMessages, assistantMsg)

	metrics := storage.RunMetrics{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Duration:     time.Since(start),
	}

	if err := a.persistRun(ctx, session, runID, input.Input, final, runMessages, metrics); err != nil {
		// A finished answer beats a failed write.
		slog.Warn("failed to persist run", "agent", a.name, "run_id", runID, "error", err)
		span.RecordError(err)
	}

	if a.memory != nil && input.UserID != "" {
		a.memory.Update(ctx, input.UserID, []*protocol.Message{userMsg, assistantMsg})
		if a.memory.SummarizeEnabled() && sessionID != "" {
			if _, err := a.memory.Summarize(ctx, input.UserID, sessionID, runMessages); err != nil {
				slog.Warn("failed to summarize session", "agent", a.name, "run_id", runID, "error", err)
			}
		}
		events <- newEvent(EventMemoryUpdated, a.name, runID, sessionID)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrModelTokensInput, usage.InputTokens),
		attribute.Int(observability.AttrModelTokensOutput, usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordAgentRun(ctx, a.name, time.Since(start),
		usage.InputTokens+usage.OutputTokens, nil)

	event := newEvent(EventRunCompleted, a.name, runID, sessionID)
	event.Output = &RunOutput{
		RunID:     runID,
		SessionID: sessionID,
		Content:   final,
		Messages:  runMessages,
		Metrics:   metrics,
	}
	events <- event
}

// callModel streams one completion, forwarding deltas as events, and
// returns the accumulated text, tool calls, and usage.
func (a *Agent) callModel(
	ctx context.Context,
	input *RunInput,
	messages []*protocol.Message,
	events chan<- Event,
	runID, sessionID string,
) (string, []*protocol.ToolCall, models.Usage, error) {
	chunks, err := a.model.GenerateStream(ctx, &models.Request{
		Messages: messages,
		Tools:    a.toolDefs,
		Output:   input.Output,
	})
	if err != nil {
		return "", nil, models.Usage{}, err
	}

	var text strings.Builder
	var toolCalls []*protocol.ToolCall
	usage := models.Usage{}

	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkTypeText:
			text.WriteString(chunk.Text)
			event := newEvent(EventContent, a.name, runID, sessionID)
			event.Content = chunk.Text
			events <- event
		case models.ChunkTypeThinking:
			event := newEvent(EventThinking, a.name, runID, sessionID)
			event.Content = chunk.Text
			events <- event
		case models.ChunkTypeToolCall:
			toolCalls = append(toolCalls, chunk.ToolCall)
		case models.ChunkTypeDone:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case models.ChunkTypeError:
			return "", nil, usage, chunk.Err
		}
	}

	return text.String(), toolCalls, usage, nil
}

func (a *Agent) executeTools(
	ctx context.Context,
	toolCalls []*protocol.ToolCall,
	events chan<- Event,
	runID, sessionID string,
) []protocol.ToolResult {
	results := make([]protocol.ToolResult, 0, len(toolCalls))

	for _, call := range toolCalls {
		event := newEvent(EventToolCallStarted, a.name, runID, sessionID)
		event.ToolCall = call
		events <- event

		result := a.executeTool(ctx, call)
		results = append(results, result)

		event = newEvent(EventToolCallCompleted, a.name, runID, sessionID)
		event.ToolCall = call
		event.ToolResult = &result
		events <- event
	}

	return results
}

// executeTool runs one call. Failures become error results handed back
// to the model rather than aborting the run.
func (a *Agent) executeTool(ctx context.Context, call *protocol.ToolCall) protocol.ToolResult {
	start := time.Now()

	tracer := observability.Tracer("petrel.agent")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, call.Name)),
	)
	defer span.End()

	result := protocol.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	var tool tools.Tool
	ok := false
	if a.tools != nil && a.allowedTool(call.Name) {
		tool, ok = a.tools.Get(call.Name)
	}
	if !ok {
		result.Content = fmt.Sprintf("tool %q is not available", call.Name)
		result.IsError = true
		observability.GetGlobalMetrics().RecordToolCall(ctx, call.Name, time.Since(start),
			fmt.Errorf("unknown tool"))
		return result
	}

	out, err := tool.Execute(ctx, call.Args)
	observability.GetGlobalMetrics().RecordToolCall(ctx, call.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		result.Content = fmt.Sprintf("tool execution failed: %v", err)
		result.IsError = true
		return result
	}

	result.Content = out.Content
	result.IsError = out.IsError
	return result
}

func (a *Agent) allowedTool(name string) bool {
	for _, allowed := range a.cfg.Tools {
		if allowed == name {
			return true
		}
	}
	return false
}

// loadSession fetches or creates the session when storage is configured.
// Temp-scoped state from previous runs is dropped.
func (a *Agent) loadSession(ctx context.Context, input *RunInput) (*storage.Session, error) {
	if a.storage == nil {
		return nil, nil
	}

	if input.SessionID != "" {
		resp, err := a.storage.Get(ctx, &storage.GetRequest{
			AppName:       a.appName,
			UserID:        input.UserID,
			SessionID:     input.SessionID,
			NumRecentRuns: a.cfg.NumHistoryRuns,
		})
		if err == nil {
			resp.Session.ClearTempState()
			return resp.Session, nil
		}
		if !errors.Is(err, storage.ErrSessionNotFound) {
			return nil, err
		}
	}

	resp, err := a.storage.Create(ctx, &storage.CreateRequest{
		AppName:   a.appName,
		UserID:    input.UserID,
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// buildMessages assembles the system prompt plus working-memory history.
func (a *Agent) buildMessages(ctx context.Context, input *RunInput, session *storage.Session) ([]*protocol.Message, error) {
	system, err := a.buildSystemPrompt(ctx, input)
	if err != nil {
		return nil, err
	}

	messages := []*protocol.Message{protocol.NewSystemMessage(system)}

	if session != nil {
		history, err := a.working.Prepare(ctx, session.RecentRuns(a.cfg.NumHistoryRuns))
		if err != nil {
			return nil, err
		}
		messages = append(messages, history...)
	}

	return messages, nil
}

func (a *Agent) buildSystemPrompt(ctx context.Context, input *RunInput) (string, error) {
	var sb strings.Builder

	if a.cfg.Instructions != "" {
		sb.WriteString(a.cfg.Instructions)
	} else {
		sb.WriteString("You are a helpful assistant.")
	}

	if a.cfg.Markdown {
		sb.WriteString("\n\nFormat your responses as markdown.")
	}

	if a.memory != nil && input.UserID != "" {
		memories, err := a.memory.Recall(ctx, input.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to recall memories: %w", err)
		}
		if len(memories) > 0 {
			sb.WriteString("\n\nWhat you remember about this user:\n")
			for _, m := range memories {
				fmt.Fprintf(&sb, "- %s\n", m.Memory)
			}
		}

		if input.SessionID != "" {
			summary, err := a.memory.SessionSummary(ctx, input.UserID, input.SessionID)
			if err != nil {
				return "", err
			}
			if summary != "" {
				sb.WriteString("\nSummary of this session so far:\n")
				sb.WriteString(summary)
				sb.WriteString("\n")
			}
		}
	}

	if a.knowledge != nil {
		results, err := a.knowledge.Search(ctx, input.Input, 0)
		if err != nil {
			return "", fmt.Errorf("knowledge search failed: %w", err)
		}
		if len(results) > 0 {
			sb.WriteString("\n\nRelevant reference material:\n")
			for _, doc := range results {
				fmt.Fprintf(&sb, "---\n%s\n", doc.Content)
			}
			sb.WriteString("---\n")
		}
	}

	return sb.String(), nil
}

func (a *Agent) persistRun(
	ctx context.Context,
	session *storage.Session,
	runID, input, output string,
	messages []*protocol.Message,
	metrics storage.RunMetrics,
) error {
	if a.storage == nil || session == nil {
		return nil
	}

	return a.storage.AppendRun(ctx, session, &storage.Run{
		ID:        runID,
		AgentName: a.name,
		Input:     input,
		Output:    output,
		Messages:  messages,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	})
}
