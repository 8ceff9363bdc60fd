// Package storage persists sessions: conversation state plus run
// history. Drivers cover in-memory, SQLite, Postgres, MySQL, and plain
// JSON files.
//
// State keys use scope prefixes: "app:" for application-wide values,
// "user:" for per-user values shared across sessions, and "temp:" for
// values discarded when a run completes. Unprefixed keys are plain
// session state.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrelhq/petrel/pkg/protocol"
)

// State key scope prefixes.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

// ErrSessionNotFound is returned when a session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Run records one agent invocation within a session.
type Run struct {
	ID        string              `json:"id"`
	AgentName string              `json:"agent_name"`
	Input     string              `json:"input"`
	Output    string              `json:"output,omitempty"`
	Messages  []*protocol.Message `json:"messages,omitempty"`
	Metrics   RunMetrics          `json:"metrics,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// RunMetrics aggregates token usage for a run.
type RunMetrics struct {
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Session is a conversation between a user and one or more agents.
type Session struct {
	ID        string         `json:"id"`
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	State     map[string]any `json:"state,omitempty"`
	Runs      []*Run         `json:"runs,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSession creates a session with a generated ID when none is given.
func NewSession(appName, userID, sessionID string, state map[string]any) *Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if state == nil {
		state = make(map[string]any)
	}
	now := time.Now().UTC()
	return &Session{
		ID:        sessionID,
		AppName:   appName,
		UserID:    userID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecentRuns returns at most n most recent runs, oldest first.
func (s *Session) RecentRuns(n int) []*Run {
	if n <= 0 || n >= len(s.Runs) {
		return s.Runs
	}
	return s.Runs[len(s.Runs)-n:]
}

// ClearTempState drops all temp-scoped keys.
func (s *Session) ClearTempState() {
	for key := range s.State {
		if strings.HasPrefix(key, KeyPrefixTemp) {
			delete(s.State, key)
		}
	}
}

// Service manages session persistence.
type Service interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// Upsert writes back a modified session.
	Upsert(ctx context.Context, session *Session) error

	// AppendRun records a completed run and persists current state.
	AppendRun(ctx context.Context, session *Session, run *Run) error

	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error

	Close() error
}

// GetRequest identifies a session to fetch.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentRuns limits history to the N most recent runs. Zero
	// returns everything.
	NumRecentRuns int
}

type GetResponse struct {
	Session *Session
}

// CreateRequest creates a session. SessionID is generated when empty.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]any
}

type CreateResponse struct {
	Session *Session
}

type ListRequest struct {
	AppName string
	UserID  string
	Limit   int
}

type ListResponse struct {
	Sessions []*Session
}

type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}
