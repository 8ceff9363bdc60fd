package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/protocol"
	"github.com/petrelhq/petrel/pkg/storage"
)

// delegateToolName is the tool the coordinate-mode leader calls to hand
// a subtask to a member.
const delegateToolName = "delegate_task"

// Team coordinates multiple agents behind one Runner surface. In route
// mode the leader model picks a single member to answer; in coordinate
// mode it delegates subtasks via tool calls and synthesizes the results.
type Team struct {
	name    string
	cfg     *config.TeamConfig
	model   models.Model
	members []*Agent
	byName  map[string]*Agent
}

// NewTeam wires a team from config, its leader model, and its members.
func NewTeam(name string, cfg *config.TeamConfig, model models.Model, members []*Agent) (*Team, error) {
	if model == nil {
		return nil, fmt.Errorf("team %s: model is required", name)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("team %s: at least one member is required", name)
	}

	byName := make(map[string]*Agent, len(members))
	for _, member := range members {
		byName[member.Name()] = member
	}

	return &Team{
		name:    name,
		cfg:     cfg,
		model:   model,
		members: members,
		byName:  byName,
	}, nil
}

func (t *Team) Name() string        { return t.name }
func (t *Team) Description() string { return t.cfg.Description }

// Run executes a request to completion.
func (t *Team) Run(ctx context.Context, input *RunInput) (*RunOutput, error) {
	events, err := t.RunStream(ctx, input)
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

// RunStream executes a request and streams events.
func (t *Team) RunStream(ctx context.Context, input *RunInput) (<-chan Event, error) {
	if input == nil || strings.TrimSpace(input.Input) == "" {
		return nil, fmt.Errorf("input is required")
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		switch t.cfg.Mode {
		case config.TeamModeRoute:
			t.route(ctx, input, events)
		default:
			t.coordinate(ctx, input, events)
		}
	}()
	return events, nil
}

// route asks the leader to pick one member, then forwards the whole
// request to it, relaying its events.
func (t *Team) route(ctx context.Context, input *RunInput, events chan<- Event) {
	runID := uuid.NewString()

	tracer := observability.Tracer("petrel.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, t.name)),
	)
	defer span.End()

	events <- newEvent(EventRunStarted, t.name, runID, input.SessionID)

	member, err := t.pickMember(ctx, input.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event := newEvent(EventRunError, t.name, runID, input.SessionID)
		event.Error = err.Error()
		events <- event
		return
	}

	memberEvents, err := member.RunStream(ctx, input)
	if err != nil {
		event := newEvent(EventRunError, t.name, runID, input.SessionID)
		event.Error = err.Error()
		events <- event
		return
	}

	for event := range memberEvents {
		events <- event
	}
	span.SetStatus(codes.Ok, "")
}

var routeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"member": map[string]any{
			"type":        "string",
			"description": "Name of the member best suited to answer",
		},
	},
	"required":             []string{"member"},
	"additionalProperties": false,
}

func (t *Team) pickMember(ctx context.Context, input string) (*Agent, error) {
	var sb strings.Builder
	sb.WriteString("Pick the team member best suited to answer the request.\n\nMembers:\n")
	for _, member := range t.members {
		fmt.Fprintf(&sb, "- %s: %s\n", member.Name(), member.Description())
	}

	resp, err := t.model.Generate(ctx, &models.Request{
		Messages: []*protocol.Message{
			protocol.NewSystemMessage(sb.String()),
			protocol.NewUserMessage(input),
		},
		Output: &models.OutputSchema{Name: "route_decision", Schema: routeSchema},
	})
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	var decision struct {
		Member string `json:"member"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse routing decision: %w", err)
	}

	member, ok := t.byName[decision.Member]
	if !ok {
		return nil, fmt.Errorf("router picked unknown member %q", decision.Member)
	}
	return member, nil
}

// coordinate runs the leader's delegation loop: the leader calls
// delegate_task until it can synthesize a final answer.
func (t *Team) coordinate(ctx context.Context, input *RunInput, events chan<- Event) {
	start := time.Now()
	runID := uuid.NewString()

	tracer := observability.Tracer("petrel.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, t.name)),
	)
	defer span.End()

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event := newEvent(EventRunError, t.name, runID, input.SessionID)
		event.Error = err.Error()
		events <- event
	}

	events <- newEvent(EventRunStarted, t.name, runID, input.SessionID)

	messages := []*protocol.Message{
		protocol.NewSystemMessage(t.leaderPrompt()),
		protocol.NewUserMessage(input.Input),
	}

	var content strings.Builder
	usage := models.Usage{}

	for iteration := 0; iteration < t.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		resp, err := t.model.Generate(ctx, &models.Request{
			Messages: messages,
			Tools:    []models.ToolDefinition{t.delegateDefinition()},
		})
		if err != nil {
			fail(err)
			return
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if resp.Text != "" {
			content.WriteString(resp.Text)
			event := newEvent(EventContent, t.name, runID, input.SessionID)
			event.Content = resp.Text
			events <- event
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		callMsg := protocol.NewToolCallMessage(resp.ToolCalls)
		messages = append(messages, callMsg)

		results := make([]protocol.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			event := newEvent(EventToolCallStarted, t.name, runID, input.SessionID)
			event.ToolCall = call
			events <- event

			result := t.delegate(ctx, input, call)
			results = append(results, result)

			event = newEvent(EventToolCallCompleted, t.name, runID, input.SessionID)
			event.ToolCall = call
			event.ToolResult = &result
			events <- event
		}
		messages = append(messages, protocol.NewToolResultMessage(results))
	}

	span.SetStatus(codes.Ok, "")

	event := newEvent(EventRunCompleted, t.name, runID, input.SessionID)
	event.Output = &RunOutput{
		RunID:     runID,
		SessionID: input.SessionID,
		Content:   content.String(),
		Metrics: storage.RunMetrics{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Duration:     time.Since(start),
		},
	}
	events <- event
}

// delegate forwards one subtask to the named member.
func (t *Team) delegate(ctx context.Context, input *RunInput, call *protocol.ToolCall) protocol.ToolResult {
	result := protocol.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	memberName, _ := call.Args["member"].(string)
	task, _ := call.Args["task"].(string)

	member, ok := t.byName[memberName]
	if !ok || task == "" {
		result.Content = fmt.Sprintf("unknown member %q or empty task", memberName)
		result.IsError = true
		return result
	}

	// Members run without the team's session so their histories stay
	// independent.
	output, err := member.Run(ctx, &RunInput{Input: task, UserID: input.UserID})
	if err != nil {
		result.Content = fmt.Sprintf("member %s failed: %v", memberName, err)
		result.IsError = true
		return result
	}

	result.Content = output.Content
	return result
}

func (t *Team) leaderPrompt() string {
	var sb strings.Builder
	if t.cfg.Instructions != "" {
		sb.WriteString(t.cfg.Instructions)
		sb.WriteString("\n\n")
	}

	sb.WriteString("You lead a team of agents. Break the request into subtasks, ")
	sb.WriteString("delegate each with the delegate_task tool, then synthesize the ")
	sb.WriteString("members' answers into one final response.\n\nMembers:\n")
	for _, member := range t.members {
		fmt.Fprintf(&sb, "- %s: %s\n", member.Name(), member.Description())
	}
	return sb.String()
}

func (t *Team) delegateDefinition() models.ToolDefinition {
	memberNames := make([]string, len(t.members))
	for i, member := range t.members {
		memberNames[i] = member.Name()
	}

	return models.ToolDefinition{
		Name:        delegateToolName,
		Description: "Delegate a subtask to a team member and get its answer",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"member": map[string]any{
					"type": "string",
					"enum": memberNames,
				},
				"task": map[string]any{
					"type":        "string",
					"description": "The subtask for the member to perform",
				},
			},
			"required": []string{"member", "task"},
		},
	}
}
