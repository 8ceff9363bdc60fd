package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petrelhq/petrel/pkg/agent"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/workflow"
)

// RunRequest is the body for agent and workflow run endpoints.
type RunRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// AgentInfo is one entry in the agent listing.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	runners := s.opts.Agents.List()
	infos := make([]AgentInfo, 0, len(runners))
	for _, runner := range runners {
		infos = append(infos, AgentInfo{
			Name:        runner.Name(),
			Description: runner.Description(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": infos})
}

func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")
	runner, ok := s.opts.Agents.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown agent %q", name))
		return
	}

	req, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := &agent.RunInput{
		Input:     req.Input,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}

	if req.Stream {
		s.streamAgentRun(w, r, runner, input)
		return
	}

	out, err := runner.Run(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) streamAgentRun(w http.ResponseWriter, r *http.Request, runner agent.Runner, input *agent.RunInput) {
	events, err := runner.RunStream(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	for event := range events {
		if err := stream.send(string(event.Type), event); err != nil {
			return
		}
	}
	stream.done()
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	infos := []AgentInfo{}
	if s.opts.Workflows != nil {
		for _, wf := range s.opts.Workflows.List() {
			infos = append(infos, AgentInfo{Name: wf.Name(), Description: wf.Description()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": infos})
}

func (s *Server) handleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "workflow")
	if s.opts.Workflows == nil {
		writeError(w, http.StatusNotFound, errors.New("no workflows configured"))
		return
	}
	wf, ok := s.opts.Workflows.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown workflow %q", name))
		return
	}

	req, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := &workflow.ExecutionInput{
		Input:     req.Input,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}

	if req.Stream {
		s.streamWorkflowRun(w, r, wf, input)
		return
	}

	out, err := wf.Run(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) streamWorkflowRun(w http.ResponseWriter, r *http.Request, wf *workflow.Workflow, input *workflow.ExecutionInput) {
	events, err := wf.RunStream(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	for event := range events {
		if err := stream.send(string(event.Type), event); err != nil {
			return
		}
	}
	stream.done()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Storage == nil {
		writeError(w, http.StatusNotFound, errors.New("no session storage configured"))
		return
	}

	resp, err := s.opts.Storage.List(r.Context(), &storage.ListRequest{
		AppName: s.appName(r),
		UserID:  r.URL.Query().Get("user_id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": resp.Sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Storage == nil {
		writeError(w, http.StatusNotFound, errors.New("no session storage configured"))
		return
	}

	resp, err := s.opts.Storage.Get(r.Context(), &storage.GetRequest{
		AppName:   s.appName(r),
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: chi.URLParam(r, "session"),
	})
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Storage == nil {
		writeError(w, http.StatusNotFound, errors.New("no session storage configured"))
		return
	}

	err := s.opts.Storage.Delete(r.Context(), &storage.DeleteRequest{
		AppName:   s.appName(r),
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: chi.URLParam(r, "session"),
	})
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// appName lets a request scope sessions to another app, defaulting to the
// server's own.
func (s *Server) appName(r *http.Request) string {
	if app := r.URL.Query().Get("app_name"); app != "" {
		return app
	}
	return s.opts.AppName
}

func decodeRunRequest(r *http.Request) (*RunRequest, error) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Input == "" {
		return nil, errors.New("input is required")
	}
	if r.URL.Query().Get("stream") == "true" {
		req.Stream = true
	}
	return &req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
