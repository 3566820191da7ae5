// Package transport owns the duplex WebSocket channel binding one client to
// one agent session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"agentwire/internal/dispatch"
	"agentwire/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds the wait for the session_info frame.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultSettleDelay is the pause between tearing down an old socket and
	// dialing a new one, so the server never sees two half-open sockets for
	// the same session token.
	DefaultSettleDelay = 250 * time.Millisecond

	// TokenNew requests a fresh server-assigned session.
	TokenNew = "new"
)

// Options configures a Channel.
type Options struct {
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
}

// Channel is a single duplex connection bound to one session id. At most one
// physical connection is open at a time; a second Connect while one is being
// negotiated awaits the in-flight negotiation instead of racing a duplicate.
type Channel struct {
	baseURL        string
	dispatcher     *dispatch.Dispatcher
	connectTimeout time.Duration
	settleDelay    time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	sessionID string
	attempt   *connectAttempt
	pumpStop  context.CancelFunc
}

// connectAttempt lets concurrent connect calls share one negotiation.
type connectAttempt struct {
	done      chan struct{}
	sessionID string
	err       error
}

// NewChannel creates a channel targeting baseURL (ws:// or wss://, no path).
// Inbound envelopes are delivered through the dispatcher.
func NewChannel(baseURL string, d *dispatch.Dispatcher, opts Options) *Channel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Channel{
		baseURL:        strings.TrimRight(baseURL, "/"),
		dispatcher:     d,
		connectTimeout: opts.ConnectTimeout,
		settleDelay:    opts.SettleDelay,
	}
}

// SessionID returns the canonical session id from the last successful
// negotiation, or "" before the first connect.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// IsOpen reports whether the channel is bound and usable for sends.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Connect dials the session endpoint and resolves the canonical session id.
// token is TokenNew or a previously issued id to resume. If a negotiation is
// already in flight the call waits for it rather than opening a second
// connection. No events are dispatched before negotiation completes; frames
// that race ahead of session_info are buffered and delivered after it.
func (c *Channel) Connect(ctx context.Context, token string) (string, error) {
	c.mu.Lock()
	if c.open {
		id := c.sessionID
		c.mu.Unlock()
		return id, nil
	}
	if c.attempt != nil {
		a := c.attempt
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.done:
			return a.sessionID, a.err
		}
	}
	a := &connectAttempt{done: make(chan struct{})}
	c.attempt = a
	c.mu.Unlock()

	id, err := c.dial(ctx, token)

	c.mu.Lock()
	a.sessionID, a.err = id, err
	c.attempt = nil
	c.mu.Unlock()
	close(a.done)

	return id, err
}

func (c *Channel) dial(ctx context.Context, token string) (string, error) {
	if token == "" {
		token = TokenNew
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/ws/%s", c.baseURL, token)
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrConnectTimeout, endpoint)
		}
		return "", fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// Negotiation is implicit via the path: wait for the first session_info
	// frame, buffering any status frames that arrive in the same burst.
	var pending []protocol.Envelope
	var sessionID string
	for sessionID == "" {
		_, raw, err := conn.Read(dialCtx)
		if err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, "negotiation failed")
			if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: no session_info within %s", ErrConnectTimeout, c.connectTimeout)
			}
			return "", fmt.Errorf("negotiation read: %w", err)
		}
		env, perr := protocol.ParseEnvelope(raw)
		if perr != nil {
			slog.Warn("Dropping malformed envelope during negotiation", "error", perr)
			continue
		}
		if env.Type == protocol.KindSessionInfo {
			info, derr := protocol.DecodeData[protocol.SessionInfo](env)
			if derr != nil || info.SessionID == "" {
				slog.Warn("Dropping session_info without session id", "error", derr)
				continue
			}
			sessionID = info.SessionID
			pending = append([]protocol.Envelope{env}, pending...)
			continue
		}
		pending = append(pending, env)
	}

	if token != TokenNew && sessionID != token {
		slog.Info("Server replaced session id", "requested", token, "assigned", sessionID)
	}

	pumpCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.sessionID = sessionID
	c.pumpStop = stop
	c.mu.Unlock()

	go c.pump(pumpCtx, conn, pending)

	slog.Info("Session channel open", "session_id", sessionID, "resumed", token != TokenNew)
	return sessionID, nil
}

// pump delivers buffered negotiation-burst envelopes and then reads until the
// connection drops. All dispatching happens on this goroutine, in wire order.
func (c *Channel) pump(ctx context.Context, conn *websocket.Conn, pending []protocol.Envelope) {
	for _, env := range pending {
		c.dispatcher.Dispatch(env)
	}
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			c.handleReadError(ctx, conn, err)
			return
		}
		env, perr := protocol.ParseEnvelope(raw)
		if perr != nil {
			slog.Warn("Dropping malformed envelope", "error", perr)
			continue
		}
		c.dispatcher.Dispatch(env)
	}
}

func (c *Channel) handleReadError(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	wasOpen := c.open && c.conn == conn
	if wasOpen {
		c.open = false
		c.conn = nil
	}
	c.mu.Unlock()
	if !wasOpen {
		return
	}

	expected := ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure
	if expected {
		slog.Debug("Session channel closed", "error", err)
		return
	}
	slog.Warn("Session channel dropped", "error", err)
	// Surface the drop as an error status record so the turn never sticks in
	// a silent processing state.
	env, merr := protocol.NewEnvelope(protocol.KindError, protocol.ErrorData{Message: "connection closed"})
	if merr == nil {
		c.dispatcher.Dispatch(env)
	}
}

// Send writes one envelope. ErrClosed is returned when the channel is not
// open; callers recover through the outbox, which owns the retry policy.
func (c *Channel) Send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	conn, open := c.conn, c.open
	c.mu.Unlock()
	if !open {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.mu.Lock()
		if c.conn == conn {
			c.open = false
			c.conn = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Ping sends a heartbeat frame carrying the current client timestamp.
func (c *Channel) Ping(ctx context.Context) error {
	env, err := protocol.NewEnvelope(protocol.KindPing, protocol.Ping{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// Reconnect tears down any existing socket, waits the settling delay, and
// dials again with the last known session id. Teardown before redial is
// mandatory; two half-open sockets for one session is a correctness bug.
func (c *Channel) Reconnect(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.attempt != nil {
		a := c.attempt
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.done:
			return a.sessionID, a.err
		}
	}
	token := c.sessionID
	if token == "" {
		token = TokenNew
	}
	conn := c.conn
	stop := c.pumpStop
	c.conn = nil
	c.open = false
	c.pumpStop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.settleDelay):
	}

	return c.Connect(ctx, token)
}

// Disconnect idempotently tears down the channel. The session id is retained
// so a later Reconnect resumes the same session.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	stop := c.pumpStop
	c.conn = nil
	c.open = false
	c.pumpStop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			slog.Debug("Failed to close websocket", "error", err)
		}
	}
}
