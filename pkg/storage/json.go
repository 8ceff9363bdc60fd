package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/petrelhq/petrel/pkg/config"
)

// JSONService stores each session as a JSON file under a directory.
// Files are laid out as <dir>/<app>/<user>/<session>.json. Handy for
// local development where inspecting state matters more than speed.
type JSONService struct {
	dir string
	mu  sync.Mutex
}

func NewJSONService(cfg *config.StorageConfig) (*JSONService, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &JSONService{dir: cfg.Path}, nil
}

func (s *JSONService) sessionPath(appName, userID, sessionID string) string {
	return filepath.Join(s.dir, sanitize(appName), sanitize(userID), sanitize(sessionID)+".json")
}

// sanitize keeps path components filesystem-safe.
func sanitize(part string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, part)
}

func (s *JSONService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(s.sessionPath(req.AppName, req.UserID, req.SessionID))
	if err != nil {
		return nil, err
	}
	session.Runs = session.RecentRuns(req.NumRecentRuns)
	return &GetResponse{Session: session}, nil
}

func (s *JSONService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := NewSession(req.AppName, req.UserID, req.SessionID, req.State)
	if err := s.save(session); err != nil {
		return nil, err
	}
	return &CreateResponse{Session: session}, nil
}

func (s *JSONService) Upsert(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.UpdatedAt = time.Now().UTC()
	return s.save(session)
}

func (s *JSONService) AppendRun(ctx context.Context, session *Session, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load(s.sessionPath(session.AppName, session.UserID, session.ID))
	if err != nil {
		return err
	}
	stored.Runs = append(stored.Runs, run)
	stored.State = session.State
	stored.UpdatedAt = time.Now().UTC()
	return s.save(stored)
}

func (s *JSONService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, sanitize(req.AppName), sanitize(req.UserID))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return &ListResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		session, err := s.load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if req.Limit > 0 && len(sessions) > req.Limit {
		sessions = sessions[:req.Limit]
	}
	return &ListResponse{Sessions: sessions}, nil
}

func (s *JSONService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionPath(req.AppName, req.UserID, req.SessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *JSONService) Close() error { return nil }

func (s *JSONService) load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", path, err)
	}
	if session.State == nil {
		session.State = make(map[string]any)
	}
	return &session, nil
}

func (s *JSONService) save(session *Session) error {
	path := s.sessionPath(session.AppName, session.UserID, session.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, path)
}

var _ Service = (*JSONService)(nil)
