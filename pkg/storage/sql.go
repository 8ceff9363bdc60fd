package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/petrelhq/petrel/pkg/config"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLService stores sessions in a relational table, one row per session
// with state and runs JSON-encoded. The same implementation serves
// SQLite, Postgres, and MySQL; only placeholders and column types vary.
type SQLService struct {
	db      *sql.DB
	driver  config.StorageDriver
	table   string
	queries sqlQueries
}

type sqlQueries struct {
	get       string
	getLocked string
	upsert    string
	list      string
	del       string
}

// NewSQLService opens the database and creates the sessions table if
// missing.
func NewSQLService(cfg *config.StorageConfig) (*SQLService, error) {
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	driverName, dsn, err := sqlDriver(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLService{
		db:      db,
		driver:  cfg.Driver,
		table:   cfg.Table,
		queries: buildQueries(cfg.Driver, cfg.Table),
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqlDriver(cfg *config.StorageConfig) (driverName, dsn string, err error) {
	switch cfg.Driver {
	case config.StorageDriverSQLite:
		// Immediate transactions take the write lock at BEGIN so
		// concurrent appends serialize instead of racing or failing
		// with SQLITE_BUSY.
		return "sqlite3", appendDSNParam(cfg.Path, "_txlock=immediate&_busy_timeout=5000"), nil
	case config.StorageDriverPostgres:
		return "postgres", config.ExpandEnv(cfg.DSN), nil
	case config.StorageDriverMySQL:
		// created_at and updated_at scan into time.Time only when the
		// driver parses DATETIME columns.
		dsn := config.ExpandEnv(cfg.DSN)
		if !strings.Contains(dsn, "parseTime") {
			dsn = appendDSNParam(dsn, "parseTime=true")
		}
		return "mysql", dsn, nil
	default:
		return "", "", fmt.Errorf("driver %q is not a SQL driver", cfg.Driver)
	}
}

func appendDSNParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

func buildQueries(driver config.StorageDriver, table string) sqlQueries {
	q := sqlQueries{
		get: fmt.Sprintf(`SELECT session_id, state, runs, created_at, updated_at FROM %s
			WHERE app_name = ? AND user_id = ? AND session_id = ?`, table),
		list: fmt.Sprintf(`SELECT session_id, state, runs, created_at, updated_at FROM %s
			WHERE app_name = ? AND user_id = ? ORDER BY updated_at DESC`, table),
		del: fmt.Sprintf(`DELETE FROM %s WHERE app_name = ? AND user_id = ? AND session_id = ?`, table),
	}

	// Row lock held for the duration of an append transaction. SQLite
	// locks the whole database at BEGIN IMMEDIATE instead.
	q.getLocked = q.get
	if driver == config.StorageDriverPostgres || driver == config.StorageDriverMySQL {
		q.getLocked += " FOR UPDATE"
	}

	switch driver {
	case config.StorageDriverMySQL:
		q.upsert = fmt.Sprintf(`INSERT INTO %s (app_name, user_id, session_id, state, runs, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE state = VALUES(state), runs = VALUES(runs), updated_at = VALUES(updated_at)`, table)
	default:
		q.upsert = fmt.Sprintf(`INSERT INTO %s (app_name, user_id, session_id, state, runs, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (app_name, user_id, session_id)
			DO UPDATE SET state = excluded.state, runs = excluded.runs, updated_at = excluded.updated_at`, table)
	}

	if driver == config.StorageDriverPostgres {
		q.get = numberPlaceholders(q.get)
		q.getLocked = numberPlaceholders(q.getLocked)
		q.list = numberPlaceholders(q.list)
		q.del = numberPlaceholders(q.del)
		q.upsert = numberPlaceholders(q.upsert)
	}
	return q
}

// numberPlaceholders rewrites ? placeholders to $1, $2, ... for Postgres.
func numberPlaceholders(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLService) createTable() error {
	textType := "TEXT"
	timeType := "TIMESTAMP"
	if s.driver == config.StorageDriverMySQL {
		textType = "LONGTEXT"
		timeType = "DATETIME"
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		app_name   VARCHAR(255) NOT NULL,
		user_id    VARCHAR(255) NOT NULL,
		session_id VARCHAR(255) NOT NULL,
		state      %s,
		runs       %s,
		created_at %s NOT NULL,
		updated_at %s NOT NULL,
		PRIMARY KEY (app_name, user_id, session_id)
	)`, s.table, textType, textType, timeType, timeType)

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	row := s.db.QueryRowContext(ctx, s.queries.get, req.AppName, req.UserID, req.SessionID)

	session, err := s.scanSession(row, req.AppName, req.UserID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session.Runs = session.RecentRuns(req.NumRecentRuns)
	return &GetResponse{Session: session}, nil
}

func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	session := NewSession(req.AppName, req.UserID, req.SessionID, req.State)
	if err := s.Upsert(ctx, session); err != nil {
		return nil, err
	}
	return &CreateResponse{Session: session}, nil
}

func (s *SQLService) Upsert(ctx context.Context, session *Session) error {
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	runs, err := json.Marshal(session.Runs)
	if err != nil {
		return fmt.Errorf("failed to encode runs: %w", err)
	}

	session.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.queries.upsert,
		session.AppName, session.UserID, session.ID,
		string(state), string(runs), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// AppendRun reloads the session, appends the run, and writes it back
// inside a single transaction so concurrent appends to the same session
// cannot overwrite each other.
func (s *SQLService) AppendRun(ctx context.Context, session *Session, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.queries.getLocked, session.AppName, session.UserID, session.ID)
	stored, err := s.scanSession(row, session.AppName, session.UserID)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	stored.Runs = append(stored.Runs, run)
	stored.State = session.State

	state, err := json.Marshal(stored.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	runs, err := json.Marshal(stored.Runs)
	if err != nil {
		return fmt.Errorf("failed to encode runs: %w", err)
	}

	stored.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.queries.upsert,
		stored.AppName, stored.UserID, stored.ID,
		string(state), string(runs), stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.list, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := s.scanSession(rows, req.AppName, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
		if req.Limit > 0 && len(sessions) >= req.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ListResponse{Sessions: sessions}, nil
}

func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	_, err := s.db.ExecContext(ctx, s.queries.del, req.AppName, req.UserID, req.SessionID)
	return err
}

func (s *SQLService) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLService) scanSession(row rowScanner, appName, userID string) (*Session, error) {
	var (
		session   Session
		state     sql.NullString
		runs      sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&session.ID, &state, &runs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	session.AppName = appName
	session.UserID = userID
	session.CreatedAt = createdAt
	session.UpdatedAt = updatedAt
	session.State = make(map[string]any)

	if state.Valid && state.String != "" {
		if err := json.Unmarshal([]byte(state.String), &session.State); err != nil {
			return nil, fmt.Errorf("failed to decode state: %w", err)
		}
	}
	if runs.Valid && runs.String != "" {
		if err := json.Unmarshal([]byte(runs.String), &session.Runs); err != nil {
			return nil, fmt.Errorf("failed to decode runs: %w", err)
		}
	}
	return &session, nil
}

var _ Service = (*SQLService)(nil)
