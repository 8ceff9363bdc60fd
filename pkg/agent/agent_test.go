package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/memory"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/protocol"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/tools"
)

// mockModel returns scripted responses in order and records requests.
type mockModel struct {
	responses []*models.Response
	requests  []*models.Request
	calls     int
}

func (m *mockModel) Name() string     { return "mock" }
func (m *mockModel) Provider() string { return "mock" }

func (m *mockModel) Generate(ctx context.Context, req *models.Request) (*models.Response, error) {
	m.requests = append(m.requests, req)
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("unexpected model call %d", m.calls)
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *mockModel) GenerateStream(ctx context.Context, req *models.Request) (<-chan models.StreamChunk, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, len(resp.ToolCalls)+2)
	if resp.Text != "" {
		out <- models.StreamChunk{Type: models.ChunkTypeText, Text: resp.Text}
	}
	for _, call := range resp.ToolCalls {
		out <- models.StreamChunk{Type: models.ChunkTypeToolCall, ToolCall: call}
	}
	usage := resp.Usage
	out <- models.StreamChunk{Type: models.ChunkTypeDone, Usage: &usage}
	close(out)
	return out, nil
}

// echoTool returns its text argument and records invocations.
type echoTool struct {
	invocations []map[string]any
}

func (t *echoTool) Name() string { return "echo" }

func (t *echoTool) Info() tools.Info {
	return tools.Info{
		Name:        "echo",
		Description: "Echoes the text argument",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Required: true},
		},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	t.invocations = append(t.invocations, args)
	text, _ := args["text"].(string)
	return tools.Result{Content: "echo: " + text}, nil
}

func testToolRegistry(t *testing.T, tool tools.Tool) *tools.Registry {
	t.Helper()
	registry, err := tools.NewRegistry(nil)
	require.NoError(t, err)
	require.NoError(t, registry.Register(tool.Name(), tool))
	return registry
}

func testAgent(t *testing.T, cfg *config.AgentConfig, deps Dependencies) *Agent {
	t.Helper()
	cfg.SetDefaults()
	a, err := New("tester", "petrel", cfg, deps)
	require.NoError(t, err)
	return a
}

func textResponse(text string) *models.Response {
	return &models.Response{
		Text:  text,
		Usage: models.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolCallResponse(name string, args map[string]any) *models.Response {
	return &models.Response{
		ToolCalls: []*protocol.ToolCall{{ID: "call_1", Name: name, Args: args}},
		Usage:     models.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestRunSimple(t *testing.T) {
	model := &mockModel{responses: []*models.Response{textResponse("hello there")}}
	a := testAgent(t, &config.AgentConfig{Model: "main"}, Dependencies{Model: model})

	output, err := a.Run(context.Background(), &RunInput{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", output.Content)
	assert.NotEmpty(t, output.RunID)
	assert.Equal(t, 10, output.Metrics.InputTokens)
	assert.Equal(t, 5, output.Metrics.OutputTokens)

	// System prompt first, user message last.
	require.Len(t, model.requests, 1)
	msgs := model.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Text())
}

func TestRunEmptyInput(t *testing.T) {
	a := testAgent(t, &config.AgentConfig{Model: "main"}, Dependencies{Model: &mockModel{}})

	_, err := a.Run(context.Background(), &RunInput{Input: "   "})
	require.Error(t, err)

	_, err = a.RunStream(context.Background(), nil)
	require.Error(t, err)
}

func TestRunToolLoop(t *testing.T) {
	model := &mockModel{responses: []*models.Response{
		toolCallResponse("echo", map[string]any{"text": "ping"}),
		textResponse("the tool said pong"),
	}}
	tool := &echoTool{}
	a := testAgent(t,
		&config.AgentConfig{Model: "main", Tools: []string{"echo"}},
		Dependencies{Model: model, Tools: testToolRegistry(t, tool)})

	output, err := a.Run(context.Background(), &RunInput{Input: "use the tool"})
	require.NoError(t, err)
	assert.Equal(t, "the tool said pong", output.Content)

	require.Len(t, tool.invocations, 1)
	assert.Equal(t, "ping", tool.invocations[0]["text"])

	// Usage accumulates across iterations.
	assert.Equal(t, 20, output.Metrics.InputTokens)

	// Second request carries the tool round-trip.
	require.Len(t, model.requests, 2)
	msgs := model.requests[1].Messages
	last := msgs[len(msgs)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "echo: ping", last.ToolResults[0].Content)
	assert.Len(t, msgs[len(msgs)-2].ToolCalls, 1)
}

func TestRunMaxIterations(t *testing.T) {
	// The model never stops calling tools; the loop must.
	responses := make([]*models.Response, 5)
	for i := range responses {
		responses[i] = toolCallResponse("echo", map[string]any{"text": "again"})
	}
	model := &mockModel{responses: responses}
	a := testAgent(t,
		&config.AgentConfig{Model: "main", Tools: []string{"echo"}, MaxIterations: 2},
		Dependencies{Model: model, Tools: testToolRegistry(t, &echoTool{})})

	_, err := a.Run(context.Background(), &RunInput{Input: "loop forever"})
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
}

func TestRunUnknownTool(t *testing.T) {
	model := &mockModel{responses: []*models.Response{
		toolCallResponse("missing", nil),
		textResponse("recovered"),
	}}
	a := testAgent(t,
		&config.AgentConfig{Model: "main", Tools: []string{"echo"}},
		Dependencies{Model: model, Tools: testToolRegistry(t, &echoTool{})})

	output, err := a.Run(context.Background(), &RunInput{Input: "call something odd"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", output.Content)

	msgs := model.requests[1].Messages
	last := msgs[len(msgs)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
}

func TestRunStreamEvents(t *testing.T) {
	model := &mockModel{responses: []*models.Response{
		toolCallResponse("echo", map[string]any{"text": "x"}),
		textResponse("done"),
	}}
	a := testAgent(t,
		&config.AgentConfig{Model: "main", Tools: []string{"echo"}},
		Dependencies{Model: model, Tools: testToolRegistry(t, &echoTool{})})

	events, err := a.RunStream(context.Background(), &RunInput{Input: "go"})
	require.NoError(t, err)

	var types []EventType
	for event := range events {
		types = append(types, event.Type)
	}

	assert.Equal(t, []EventType{
		EventRunStarted,
		EventToolCallStarted,
		EventToolCallCompleted,
		EventContent,
		EventRunCompleted,
	}, types)
}

func TestRunPersistsSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryService()
	model := &mockModel{responses: []*models.Response{
		textResponse("first answer"),
		textResponse("second answer"),
	}}
	a := testAgent(t, &config.AgentConfig{Model: "main"},
		Dependencies{Model: model, Storage: store})

	first, err := a.Run(ctx, &RunInput{Input: "first question", UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)

	_, err = a.Run(ctx, &RunInput{
		Input:     "second question",
		UserID:    "u1",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)

	// The second request replays the first run's messages.
	msgs := model.requests[1].Messages
	var texts []string
	for _, msg := range msgs {
		texts = append(texts, msg.Text())
	}
	assert.Contains(t, texts, "first question")
	assert.Contains(t, texts, "first answer")

	// Both runs landed in the session.
	resp, err := store.Get(ctx, &storage.GetRequest{
		AppName: "petrel", UserID: "u1", SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Session.Runs, 2)
	assert.Equal(t, "first answer", resp.Session.Runs[0].Output)
}

func TestRunInjectsMemories(t *testing.T) {
	ctx := context.Background()

	memStore := memory.NewInMemoryStore()
	require.NoError(t, memStore.Add(ctx, &memory.UserMemory{
		UserID: "u1", Memory: "Prefers answers in French",
	}))
	memModel := &mockModel{responses: []*models.Response{
		{Text: `{"decisions": []}`},
	}}
	manager := memory.NewManager(memModel, memStore, &config.LongTermMemoryConfig{RecallLimit: 10})

	model := &mockModel{responses: []*models.Response{textResponse("bonjour")}}
	a := testAgent(t, &config.AgentConfig{Model: "main"},
		Dependencies{Model: model, Memory: manager})

	events, err := a.RunStream(ctx, &RunInput{Input: "hello", UserID: "u1"})
	require.NoError(t, err)

	sawMemoryUpdate := false
	for event := range events {
		if event.Type == EventMemoryUpdated {
			sawMemoryUpdate = true
		}
	}
	assert.True(t, sawMemoryUpdate)

	system := model.requests[0].Messages[0].Text()
	assert.Contains(t, system, "Prefers answers in French")
}

func TestRunSummarizesSession(t *testing.T) {
	ctx := context.Background()

	memStore := memory.NewInMemoryStore()
	memModel := &mockModel{responses: []*models.Response{
		{Text: `{"decisions": []}`},
		textResponse("User said hello and got a greeting back."),
		{Text: `{"decisions": []}`},
		textResponse("User said hello twice."),
	}}
	manager := memory.NewManager(memModel, memStore, &config.LongTermMemoryConfig{
		RecallLimit: 10, Summarize: true,
	})

	model := &mockModel{responses: []*models.Response{
		textResponse("hi there"),
		textResponse("hi again"),
	}}
	a := testAgent(t, &config.AgentConfig{Model: "main"},
		Dependencies{Model: model, Memory: manager})

	_, err := a.Run(ctx, &RunInput{Input: "hello", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	summary, err := manager.SessionSummary(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "User said hello and got a greeting back.", summary)

	// The next run in the same session reads the summary back into the
	// system prompt.
	_, err = a.Run(ctx, &RunInput{Input: "hello again", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	system := model.requests[1].Messages[0].Text()
	assert.Contains(t, system, "User said hello and got a greeting back.")
}

func TestRunModelError(t *testing.T) {
	a := testAgent(t, &config.AgentConfig{Model: "main"},
		Dependencies{Model: &mockModel{}})

	_, err := a.Run(context.Background(), &RunInput{Input: "hi"})
	require.Error(t, err)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New("x", "petrel", &config.AgentConfig{}, Dependencies{})
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	model := &mockModel{responses: []*models.Response{textResponse("hi")}}
	a := testAgent(t, &config.AgentConfig{Model: "main"}, Dependencies{Model: model})

	r := NewRegistry()
	require.NoError(t, r.Register(a.Name(), a))

	runner, ok := r.Get("tester")
	require.True(t, ok)
	assert.Equal(t, "tester", runner.Name())
	assert.Equal(t, []string{"tester"}, r.Names())
}
