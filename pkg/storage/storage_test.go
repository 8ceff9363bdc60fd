package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/protocol"
)

// serviceTests runs the shared contract against every driver.
func serviceTests(t *testing.T, newService func(t *testing.T) Service) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		created, err := s.Create(ctx, &CreateRequest{
			AppName: "app", UserID: "alice",
			State: map[string]any{"user:name": "Alice"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.Session.ID)

		got, err := s.Get(ctx, &GetRequest{
			AppName: "app", UserID: "alice", SessionID: created.Session.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, created.Session.ID, got.Session.ID)
		assert.Equal(t, "Alice", got.Session.State["user:name"])
	})

	t.Run("get missing", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		_, err := s.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "nope"})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("append run and recent runs", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		created, err := s.Create(ctx, &CreateRequest{
			AppName: "app", UserID: "alice", SessionID: "s1",
		})
		require.NoError(t, err)
		session := created.Session

		for _, input := range []string{"one", "two", "three"} {
			run := &Run{
				ID:        input,
				AgentName: "helper",
				Input:     input,
				Output:    "echo " + input,
				Messages: []*protocol.Message{
					protocol.NewUserMessage(input),
					protocol.NewAssistantMessage("echo " + input),
				},
			}
			require.NoError(t, s.AppendRun(ctx, session, run))
			session.Runs = append(session.Runs, run)
		}

		got, err := s.Get(ctx, &GetRequest{
			AppName: "app", UserID: "alice", SessionID: "s1",
		})
		require.NoError(t, err)
		require.Len(t, got.Session.Runs, 3)
		assert.Equal(t, "one", got.Session.Runs[0].Input)

		got, err = s.Get(ctx, &GetRequest{
			AppName: "app", UserID: "alice", SessionID: "s1", NumRecentRuns: 2,
		})
		require.NoError(t, err)
		require.Len(t, got.Session.Runs, 2)
		assert.Equal(t, "two", got.Session.Runs[0].Input)
		assert.Equal(t, "three", got.Session.Runs[1].Input)
	})

	t.Run("concurrent appends keep every run", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		created, err := s.Create(ctx, &CreateRequest{
			AppName: "app", UserID: "alice", SessionID: "s1",
		})
		require.NoError(t, err)
		session := created.Session

		const workers = 20
		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.AppendRun(ctx, session, &Run{
					ID: fmt.Sprintf("run-%d", i), AgentName: "helper",
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
		require.NoError(t, err)
		assert.Len(t, got.Session.Runs, workers)
	})

	t.Run("upsert persists state", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		created, err := s.Create(ctx, &CreateRequest{
			AppName: "app", UserID: "alice", SessionID: "s1",
		})
		require.NoError(t, err)

		session := created.Session
		session.State["app:theme"] = "dark"
		require.NoError(t, s.Upsert(ctx, session))

		got, err := s.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, "dark", got.Session.State["app:theme"])
	})

	t.Run("list scopes by user", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		for _, id := range []string{"s1", "s2"} {
			_, err := s.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: id})
			require.NoError(t, err)
		}
		_, err := s.Create(ctx, &CreateRequest{AppName: "app", UserID: "bob", SessionID: "s3"})
		require.NoError(t, err)

		resp, err := s.List(ctx, &ListRequest{AppName: "app", UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, resp.Sessions, 2)

		resp, err = s.List(ctx, &ListRequest{AppName: "app", UserID: "alice", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, resp.Sessions, 1)
	})

	t.Run("delete", func(t *testing.T) {
		s := newService(t)
		defer s.Close()

		_, err := s.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, &DeleteRequest{AppName: "app", UserID: "alice", SessionID: "s1"}))
		_, err = s.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
		assert.ErrorIs(t, err, ErrSessionNotFound)

		// Deleting a missing session is not an error.
		require.NoError(t, s.Delete(ctx, &DeleteRequest{AppName: "app", UserID: "alice", SessionID: "s1"}))
	})
}

func TestMemoryService(t *testing.T) {
	serviceTests(t, func(t *testing.T) Service {
		return NewMemoryService()
	})
}

func TestSQLiteService(t *testing.T) {
	serviceTests(t, func(t *testing.T) Service {
		cfg := &config.StorageConfig{
			Driver: config.StorageDriverSQLite,
			Path:   filepath.Join(t.TempDir(), "petrel.db"),
		}
		cfg.SetDefaults()
		s, err := NewSQLService(cfg)
		require.NoError(t, err)
		return s
	})
}

func TestJSONService(t *testing.T) {
	serviceTests(t, func(t *testing.T) Service {
		cfg := &config.StorageConfig{
			Driver: config.StorageDriverJSON,
			Path:   t.TempDir(),
		}
		cfg.SetDefaults()
		s, err := NewJSONService(cfg)
		require.NoError(t, err)
		return s
	})
}

func TestClearTempState(t *testing.T) {
	session := NewSession("app", "alice", "s1", map[string]any{
		"app:theme":    "dark",
		"user:name":    "Alice",
		"temp:scratch": "x",
		"plain":        "y",
	})

	session.ClearTempState()
	assert.NotContains(t, session.State, "temp:scratch")
	assert.Contains(t, session.State, "app:theme")
	assert.Contains(t, session.State, "user:name")
	assert.Contains(t, session.State, "plain")
}

func TestSQLRejectsBadTableName(t *testing.T) {
	_, err := NewSQLService(&config.StorageConfig{
		Driver: config.StorageDriverSQLite,
		Path:   ":memory:",
		Table:  "sessions; DROP TABLE users",
	})
	require.Error(t, err)
}

func TestSQLDriverDSN(t *testing.T) {
	_, dsn, err := sqlDriver(&config.StorageConfig{
		Driver: config.StorageDriverSQLite,
		Path:   "petrel.db",
	})
	require.NoError(t, err)
	assert.Equal(t, "petrel.db?_txlock=immediate&_busy_timeout=5000", dsn)

	_, dsn, err = sqlDriver(&config.StorageConfig{
		Driver: config.StorageDriverMySQL,
		DSN:    "user:pw@tcp(db:3306)/petrel",
	})
	require.NoError(t, err)
	assert.Equal(t, "user:pw@tcp(db:3306)/petrel?parseTime=true", dsn)

	_, dsn, err = sqlDriver(&config.StorageConfig{
		Driver: config.StorageDriverMySQL,
		DSN:    "user:pw@tcp(db:3306)/petrel?charset=utf8mb4",
	})
	require.NoError(t, err)
	assert.Equal(t, "user:pw@tcp(db:3306)/petrel?charset=utf8mb4&parseTime=true", dsn)

	_, dsn, err = sqlDriver(&config.StorageConfig{
		Driver: config.StorageDriverMySQL,
		DSN:    "user:pw@tcp(db:3306)/petrel?parseTime=false",
	})
	require.NoError(t, err)
	assert.Equal(t, "user:pw@tcp(db:3306)/petrel?parseTime=false", dsn)
}

func TestNumberPlaceholders(t *testing.T) {
	got := numberPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", got)
}

func TestNewFactory(t *testing.T) {
	s, err := New(&config.StorageConfig{Driver: config.StorageDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryService{}, s)

	_, err = New(&config.StorageConfig{Driver: "cloud"})
	require.Error(t, err)
}
