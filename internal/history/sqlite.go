package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite for single-node deployments that
// have no Redis.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes read-modify-write cycles on the session blobs.
	mu sync.Mutex
}

// NewSQLite creates a SQLite-backed store at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		state_json TEXT NOT NULL DEFAULT '{}',
		conversation_json TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return err
	}
	return nil
}

// CreateSession creates a new session with a generated id.
func (s *SQLiteStore) CreateSession(ctx context.Context) (*Session, error) {
	return s.create(ctx, uuid.NewString())
}

func (s *SQLiteStore) create(ctx context.Context, id string) (*Session, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	return &Session{
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		State:        map[string]any{},
		Conversation: []StoredMessage{},
	}, nil
}

// EnsureSession returns the session, creating it when absent.
func (s *SQLiteStore) EnsureSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return s.create(ctx, id)
}

// GetSession retrieves a session, or nil if it does not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *SQLiteStore) getLocked(ctx context.Context, id string) (*Session, error) {
	var (
		sess             Session
		stateJSON        string
		conversationJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at, state_json, conversation_json
		 FROM sessions WHERE session_id = ?`, id).
		Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &stateJSON, &conversationJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(conversationJSON), &sess.Conversation); err != nil {
		return nil, fmt.Errorf("decode conversation for %s: %w", id, err)
	}
	return &sess, nil
}

// AppendMessage appends one conversation entry.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("append to unknown session %s", id)
	}
	sess.Conversation = append(sess.Conversation, msg)
	return s.writeLocked(ctx, sess)
}

// UpdateState merges the given keys into the session state.
func (s *SQLiteStore) UpdateState(ctx context.Context, id string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("update unknown session %s", id)
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	for k, v := range updates {
		sess.State[k] = v
	}
	return s.writeLocked(ctx, sess)
}

func (s *SQLiteStore) writeLocked(ctx context.Context, sess *Session) error {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", sess.ID, err)
	}
	conversationJSON, err := json.Marshal(sess.Conversation)
	if err != nil {
		return fmt.Errorf("encode conversation for %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, state_json = ?, conversation_json = ?
		 WHERE session_id = ?`,
		time.Now().Unix(), string(stateJSON), string(conversationJSON), sess.ID)
	if err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// CleanupExpired removes sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
