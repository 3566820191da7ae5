// Package server hosts the WebSocket and REST endpoints for agent sessions.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"agentwire/internal/protocol"
)

// liveSession is one attached WebSocket connection plus the channel that
// feeds clarification answers back into a running turn.
type liveSession struct {
	conn    *websocket.Conn
	answers chan string

	// writeMu serializes frames from the read loop (pong) and the
	// runner goroutine.
	writeMu sync.Mutex

	// running guards against overlapping turns on one connection.
	running bool
	stateMu sync.Mutex
}

func (s *liveSession) write(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// tryBeginTurn marks the session busy. It reports false when a turn is
// already in flight.
func (s *liveSession) tryBeginTurn() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *liveSession) endTurn() {
	s.stateMu.Lock()
	s.running = false
	s.stateMu.Unlock()
}

// Registry tracks the active connection per session.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*liveSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*liveSession)}
}

// Register attaches a connection to a session, displacing any previous one.
func (r *Registry) Register(sessionID string, conn *websocket.Conn) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[sessionID]; ok && existing.conn != conn {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}

	live := &liveSession{
		conn:    conn,
		answers: make(chan string, 1),
	}
	r.active[sessionID] = live
	slog.Info("Session attached", "session_id", sessionID)
	return live
}

// Unregister detaches a connection if it is still the active one.
func (r *Registry) Unregister(sessionID string, live *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[sessionID]; ok && current == live {
		delete(r.active, sessionID)
		slog.Info("Session detached", "session_id", sessionID)
	}
}

// Get returns the live session, or nil when none is attached.
func (r *Registry) Get(sessionID string) *liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[sessionID]
}

// CloseAll terminates every attached connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, live := range r.active {
		_ = live.conn.Close(websocket.StatusNormalClosure, "server shutting down")
		slog.Info("Session closed", "session_id", id)
	}
	r.active = make(map[string]*liveSession)
}
