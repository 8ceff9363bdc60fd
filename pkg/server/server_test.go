package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/agent"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/workflow"
)

// stubRunner echoes its input back with a prefix.
type stubRunner struct {
	name string
	err  error
}

func (r *stubRunner) Name() string        { return r.name }
func (r *stubRunner) Description() string { return "stub " + r.name }

func (r *stubRunner) Run(ctx context.Context, input *agent.RunInput) (*agent.RunOutput, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &agent.RunOutput{
		RunID:     "run-1",
		SessionID: input.SessionID,
		Content:   "echo: " + input.Input,
	}, nil
}

func (r *stubRunner) RunStream(ctx context.Context, input *agent.RunInput) (<-chan agent.Event, error) {
	if r.err != nil {
		return nil, r.err
	}
	events := make(chan agent.Event, 3)
	events <- agent.Event{Type: agent.EventRunStarted, AgentName: r.name}
	events <- agent.Event{Type: agent.EventContent, Content: "echo: " + input.Input}
	events <- agent.Event{
		Type:   agent.EventRunCompleted,
		Output: &agent.RunOutput{RunID: "run-1", Content: "echo: " + input.Input},
	}
	close(events)
	return events, nil
}

func testServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Agents == nil {
		opts.Agents = agent.NewRegistry()
		require.NoError(t, opts.Agents.Register("echo", &stubRunner{name: "echo"}))
	}
	opts.AppName = "testapp"
	srv, err := New(opts)
	require.NoError(t, err)
	return srv
}

func TestHealth(t *testing.T) {
	srv := testServer(t, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListAgents(t *testing.T) {
	srv := testServer(t, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Agents []AgentInfo `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "echo", body.Agents[0].Name)
	assert.Equal(t, "stub echo", body.Agents[0].Description)
}

func TestAgentRun(t *testing.T) {
	srv := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/echo/runs",
		strings.NewReader(`{"input": "hello", "session_id": "s1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out agent.RunOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "echo: hello", out.Content)
	assert.Equal(t, "s1", out.SessionID)
}

func TestAgentRunStream(t *testing.T) {
	srv := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/echo/runs?stream=true",
		strings.NewReader(`{"input": "hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: run_started")
	assert.Contains(t, body, "event: content")
	assert.Contains(t, body, "event: run_completed")
	assert.Contains(t, body, "echo: hello")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {}\n\n"))
}

func TestAgentRunUnknownAgent(t *testing.T) {
	srv := testServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/nope/runs",
		strings.NewReader(`{"input": "hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown agent")
}

func TestAgentRunValidation(t *testing.T) {
	srv := testServer(t, Options{})

	for name, body := range map[string]string{
		"empty input": `{"input": ""}`,
		"bad json":    `{`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/agents/echo/runs",
				strings.NewReader(body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAgentRunError(t *testing.T) {
	agents := agent.NewRegistry()
	require.NoError(t, agents.Register("broken", &stubRunner{name: "broken", err: errors.New("model down")}))
	srv := testServer(t, Options{Agents: agents})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/broken/runs",
		strings.NewReader(`{"input": "hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "model down")
}

func TestWorkflowRun(t *testing.T) {
	workflows := workflow.NewRegistry()
	wf, err := workflow.New(workflow.Config{
		Name: "upper",
		Steps: []workflow.Executor{
			workflow.NewFuncStep("upper", func(ctx context.Context, in *workflow.ExecutionInput) (string, error) {
				return strings.ToUpper(in.Message()), nil
			}),
		},
	})
	require.NoError(t, err)
	require.NoError(t, workflows.Register(wf.Name(), wf))

	srv := testServer(t, Options{Workflows: workflows})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upper"`)

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/upper/runs",
		strings.NewReader(`{"input": "hello"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out workflow.Output
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "HELLO", out.Content)
}

func TestWorkflowRunStream(t *testing.T) {
	workflows := workflow.NewRegistry()
	wf, err := workflow.New(workflow.Config{
		Name: "upper",
		Steps: []workflow.Executor{
			workflow.NewFuncStep("upper", func(ctx context.Context, in *workflow.ExecutionInput) (string, error) {
				return strings.ToUpper(in.Message()), nil
			}),
		},
	})
	require.NoError(t, err)
	require.NoError(t, workflows.Register(wf.Name(), wf))

	srv := testServer(t, Options{Workflows: workflows})

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/upper/runs",
		strings.NewReader(`{"input": "hello", "stream": true}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: workflow_started")
	assert.Contains(t, body, "event: step_completed")
	assert.Contains(t, body, "event: workflow_completed")
}

func TestWorkflowRunUnknown(t *testing.T) {
	srv := testServer(t, Options{Workflows: workflow.NewRegistry()})

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/nope/runs",
		strings.NewReader(`{"input": "hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	store := storage.NewMemoryService()
	srv := testServer(t, Options{Storage: store})

	_, err := store.Create(context.Background(), &storage.CreateRequest{
		AppName: "testapp", UserID: "u1", SessionID: "s1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"s1"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1?user_id=u1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1?user_id=u1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpointsWithoutStorage(t *testing.T) {
	srv := testServer(t, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
