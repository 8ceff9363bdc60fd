// Package server exposes agents, workflows and sessions over HTTP.
//
// The API is JSON over chi routes. Run endpoints answer with a single JSON
// document by default and switch to Server-Sent Events when the request
// asks for streaming.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petrelhq/petrel/pkg/agent"
	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/workflow"
)

// Options configures a Server. Agents is required; the rest is optional.
type Options struct {
	Config config.ServerConfig

	AppName   string
	Agents    *agent.Registry
	Workflows *workflow.Registry
	Storage   storage.Service
}

// Server is the HTTP API process.
type Server struct {
	opts       Options
	httpServer *http.Server
}

func New(opts Options) (*Server, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("server: agent registry is required")
	}
	if opts.AppName == "" {
		opts.AppName = "petrel"
	}
	if opts.Config.Host == "" {
		opts.Config.Host = "0.0.0.0"
	}
	if opts.Config.Port == 0 {
		opts.Config.Port = 7777
	}

	s := &Server{opts: opts}
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler:     s.routes(),
		ReadTimeout: time.Duration(opts.Config.ReadTimeout) * time.Second,
		// WriteTimeout stays at the configured value; zero keeps streams open.
		WriteTimeout: time.Duration(opts.Config.WriteTimeout) * time.Second,
	}
	return s, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(observability.HTTPMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents/{agent}/runs", s.handleAgentRun)

		r.Get("/workflows", s.handleListWorkflows)
		r.Post("/workflows/{workflow}/runs", s.handleWorkflowRun)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{session}", s.handleGetSession)
		r.Delete("/sessions/{session}", s.handleDeleteSession)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
