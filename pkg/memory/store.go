package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrelhq/petrel/pkg/config"
)

// UserMemory is one durable fact the model keeps about a user.
type UserMemory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Memory    string    `json:"memory"`
	Topics    []string  `json:"topics,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists user memories and session summaries.
type Store interface {
	Add(ctx context.Context, memory *UserMemory) error
	Update(ctx context.Context, memory *UserMemory) error
	Delete(ctx context.Context, userID, memoryID string) error
	List(ctx context.Context, userID string, limit int) ([]*UserMemory, error)

	SetSummary(ctx context.Context, userID, sessionID, summary string) error
	GetSummary(ctx context.Context, userID, sessionID string) (string, error)

	Close() error
}

// NewStore builds a memory store backed by the given storage config.
// SQL drivers get their own table; everything else falls back to the
// in-memory store.
func NewStore(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.StorageDriverSQLite, config.StorageDriverPostgres, config.StorageDriverMySQL:
		return NewSQLStore(cfg)
	default:
		return NewInMemoryStore(), nil
	}
}

// InMemoryStore keeps memories in maps. For tests and memory-driver
// setups.
type InMemoryStore struct {
	mu        sync.RWMutex
	memories  map[string][]*UserMemory
	summaries map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:  make(map[string][]*UserMemory),
		summaries: make(map[string]string),
	}
}

func (s *InMemoryStore) Add(ctx context.Context, memory *UserMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	memory.CreatedAt = now
	memory.UpdatedAt = now
	s.memories[memory.UserID] = append(s.memories[memory.UserID], memory)
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, memory *UserMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.memories[memory.UserID] {
		if existing.ID == memory.ID {
			memory.CreatedAt = existing.CreatedAt
			memory.UpdatedAt = time.Now().UTC()
			s.memories[memory.UserID][i] = memory
			return nil
		}
	}
	return fmt.Errorf("memory %q not found", memory.ID)
}

func (s *InMemoryStore) Delete(ctx context.Context, userID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	memories := s.memories[userID]
	for i, existing := range memories {
		if existing.ID == memoryID {
			s.memories[userID] = append(memories[:i], memories[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, userID string, limit int) ([]*UserMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memories := append([]*UserMemory(nil), s.memories[userID]...)
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].UpdatedAt.After(memories[j].UpdatedAt)
	})
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

func (s *InMemoryStore) SetSummary(ctx context.Context, userID, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[userID+"\x00"+sessionID] = summary
	return nil
}

func (s *InMemoryStore) GetSummary(ctx context.Context, userID, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[userID+"\x00"+sessionID], nil
}

func (s *InMemoryStore) Close() error { return nil }

// SQLStore persists memories in the user_memories and session_summaries
// tables, sharing the session database.
type SQLStore struct {
	db       *sql.DB
	driver   config.StorageDriver
	postgres bool
}

func NewSQLStore(cfg *config.StorageConfig) (*SQLStore, error) {
	driverName := "sqlite3"
	dsn := cfg.Path
	switch cfg.Driver {
	case config.StorageDriverPostgres:
		driverName, dsn = "postgres", config.ExpandEnv(cfg.DSN)
	case config.StorageDriverMySQL:
		driverName, dsn = "mysql", config.ExpandEnv(cfg.DSN)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLStore{db: db, driver: cfg.Driver, postgres: cfg.Driver == config.StorageDriverPostgres}
	if err := s.createTables(cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables(driver config.StorageDriver) error {
	textType := "TEXT"
	timeType := "TIMESTAMP"
	if driver == config.StorageDriverMySQL {
		textType = "LONGTEXT"
		timeType = "DATETIME"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_memories (
			id         VARCHAR(255) PRIMARY KEY,
			user_id    VARCHAR(255) NOT NULL,
			memory     %s,
			topics     %s,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, textType, textType, timeType, timeType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_summaries (
			user_id    VARCHAR(255) NOT NULL,
			session_id VARCHAR(255) NOT NULL,
			summary    %s,
			updated_at %s NOT NULL,
			PRIMARY KEY (user_id, session_id)
		)`, textType, timeType),
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create memory tables: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var sb []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb = append(sb, fmt.Sprintf("$%d", n)...)
			continue
		}
		sb = append(sb, query[i])
	}
	return string(sb)
}

func (s *SQLStore) Add(ctx context.Context, memory *UserMemory) error {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	memory.CreatedAt = now
	memory.UpdatedAt = now

	topics, err := json.Marshal(memory.Topics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO user_memories (id, user_id, memory, topics, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		memory.ID, memory.UserID, memory.Memory, string(topics), memory.CreatedAt, memory.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add memory: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, memory *UserMemory) error {
	memory.UpdatedAt = time.Now().UTC()
	topics, err := json.Marshal(memory.Topics)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE user_memories SET memory = ?, topics = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		memory.Memory, string(topics), memory.UpdatedAt, memory.ID, memory.UserID)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %q not found", memory.ID)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, userID, memoryID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM user_memories WHERE id = ? AND user_id = ?`), memoryID, userID)
	return err
}

func (s *SQLStore) List(ctx context.Context, userID string, limit int) ([]*UserMemory, error) {
	query := `SELECT id, memory, topics, created_at, updated_at FROM user_memories
		WHERE user_id = ? ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var memories []*UserMemory
	for rows.Next() {
		memory := &UserMemory{UserID: userID}
		var topics sql.NullString
		if err := rows.Scan(&memory.ID, &memory.Memory, &topics, &memory.CreatedAt, &memory.UpdatedAt); err != nil {
			return nil, err
		}
		if topics.Valid && topics.String != "" {
			if err := json.Unmarshal([]byte(topics.String), &memory.Topics); err != nil {
				return nil, err
			}
		}
		memories = append(memories, memory)
		if limit > 0 && len(memories) >= limit {
			break
		}
	}
	return memories, rows.Err()
}

func (s *SQLStore) SetSummary(ctx context.Context, userID, sessionID, summary string) error {
	query := `INSERT INTO session_summaries (user_id, session_id, summary, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, session_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`
	if s.driver == config.StorageDriverMySQL {
		query = `INSERT INTO session_summaries (user_id, session_id, summary, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE summary = VALUES(summary), updated_at = VALUES(updated_at)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query), userID, sessionID, summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSummary(ctx context.Context, userID, sessionID string) (string, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT summary FROM session_summaries WHERE user_id = ? AND session_id = ?`),
		userID, sessionID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return summary.String, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
