package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryService keeps sessions in a map. Useful for tests and for
// agents that do not need persistence.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: make(map[string]*Session)}
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + "\x00" + userID + "\x00" + sessionID
}

func (s *MemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionKey(req.AppName, req.UserID, req.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := copySession(session)
	copied.Runs = copied.RecentRuns(req.NumRecentRuns)
	return &GetResponse{Session: copied}, nil
}

func (s *MemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := NewSession(req.AppName, req.UserID, req.SessionID, req.State)
	s.sessions[sessionKey(session.AppName, session.UserID, session.ID)] = session
	return &CreateResponse{Session: copySession(session)}, nil
}

func (s *MemoryService) Upsert(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copySession(session)
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[sessionKey(session.AppName, session.UserID, session.ID)] = stored
	return nil
}

func (s *MemoryService) AppendRun(ctx context.Context, session *Session, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(session.AppName, session.UserID, session.ID)
	stored, ok := s.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}

	stored.Runs = append(stored.Runs, run)
	stored.State = copyState(session.State)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := req.AppName + "\x00" + req.UserID + "\x00"
	var sessions []*Session
	for key, session := range s.sessions {
		if strings.HasPrefix(key, prefix) {
			sessions = append(sessions, copySession(session))
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if req.Limit > 0 && len(sessions) > req.Limit {
		sessions = sessions[:req.Limit]
	}
	return &ListResponse{Sessions: sessions}, nil
}

func (s *MemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey(req.AppName, req.UserID, req.SessionID))
	return nil
}

func (s *MemoryService) Close() error { return nil }

func copySession(session *Session) *Session {
	copied := *session
	copied.State = copyState(session.State)
	copied.Runs = append([]*Run(nil), session.Runs...)
	return &copied
}

func copyState(state map[string]any) map[string]any {
	copied := make(map[string]any, len(state))
	for k, v := range state {
		copied[k] = v
	}
	return copied
}

var _ Service = (*MemoryService)(nil)
