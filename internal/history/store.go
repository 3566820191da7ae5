// Package history persists per-session conversation state for resumption.
// The timeline itself is ephemeral and never stored here.
package history

import (
	"context"
	"time"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 24 * time.Hour

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StoredMessage is one serialized conversation entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the persisted state of one conversation.
type Session struct {
	ID           string          `json:"session_id"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
	State        map[string]any  `json:"state"`
	Conversation []StoredMessage `json:"conversation"`
}

// Store defines the interface for persisting session conversations.
type Store interface {
	// CreateSession creates a new session with a generated id.
	CreateSession(ctx context.Context) (*Session, error)

	// EnsureSession returns the session with the given id, creating it if it
	// does not exist. Used when a client resumes with an id the store has
	// already expired.
	EnsureSession(ctx context.Context, id string) (*Session, error)

	// GetSession retrieves a session, or nil if it does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)

	// AppendMessage appends one conversation entry.
	AppendMessage(ctx context.Context, id string, msg StoredMessage) error

	// UpdateState merges the given keys into the session state.
	UpdateState(ctx context.Context, id string, updates map[string]any) error

	// DeleteSession removes a session and all associated data.
	DeleteSession(ctx context.Context, id string) error

	// CleanupExpired removes sessions idle longer than ttl and reports how
	// many were removed.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
