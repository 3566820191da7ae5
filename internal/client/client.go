// Package client is the embeddable session client: it owns the channel, the
// outbox, and the reconciler, and exposes the assembled conversation state.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentwire/internal/dispatch"
	"agentwire/internal/history"
	"agentwire/internal/outbox"
	"agentwire/internal/timeline"
	"agentwire/internal/transport"
	"agentwire/internal/view"
)

// Options configures a SessionClient.
type Options struct {
	// ServerURL is the http(s) base of the agent server.
	ServerURL string

	ConnectTimeout time.Duration
	SettleDelay    time.Duration
	ClearGrace     time.Duration

	// OnUpdate receives a freshly projected view after every state change.
	OnUpdate func(view.View)

	// HTTPClient overrides the client used for REST calls.
	HTTPClient *http.Client
}

// Conversation is the stored history fetched from the server.
type Conversation struct {
	SessionID string                  `json:"session_id"`
	Messages  []history.StoredMessage `json:"conversation"`
	State     map[string]any          `json:"state"`
}

// SessionClient binds one conversation session end to end.
type SessionClient struct {
	serverURL  string
	httpClient *http.Client

	dispatcher *dispatch.Dispatcher
	channel    *transport.Channel
	outbox     *outbox.Queue
	rec        *timeline.Reconciler
}

// New creates a client for the given server. No connection is made until
// Connect or Resume.
func New(opts Options) (*SessionClient, error) {
	serverURL := strings.TrimRight(opts.ServerURL, "/")
	if serverURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	wsURL, err := websocketBase(serverURL)
	if err != nil {
		return nil, err
	}

	d := dispatch.New()
	ch := transport.NewChannel(wsURL, d, transport.Options{
		ConnectTimeout: opts.ConnectTimeout,
		SettleDelay:    opts.SettleDelay,
	})

	c := &SessionClient{
		serverURL:  serverURL,
		httpClient: opts.HTTPClient,
		dispatcher: d,
		channel:    ch,
		outbox:     outbox.New(ch),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c.rec = timeline.NewReconciler(timeline.Options{
		ClearGrace: opts.ClearGrace,
		OnChange: func(snap timeline.Snapshot) {
			if opts.OnUpdate != nil {
				opts.OnUpdate(view.Project(snap))
			}
		},
	})
	c.rec.Bind(d)

	return c, nil
}

func websocketBase(serverURL string) (string, error) {
	switch {
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://"), nil
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://"), nil
	default:
		return "", fmt.Errorf("server url %q must be http or https", serverURL)
	}
}

// Connect opens a fresh session and returns its id.
func (c *SessionClient) Connect(ctx context.Context) (string, error) {
	return c.channel.Connect(ctx, transport.TokenNew)
}

// Resume reattaches to an existing session.
func (c *SessionClient) Resume(ctx context.Context, sessionID string) (string, error) {
	return c.channel.Connect(ctx, sessionID)
}

// SessionID returns the negotiated session id, or "" before Connect.
func (c *SessionClient) SessionID() string {
	return c.channel.SessionID()
}

// Send routes user input: while a clarification is outstanding the text
// answers it, otherwise it starts a new turn.
func (c *SessionClient) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty message")
	}

	if pending, ok := c.rec.PendingClarification(); ok {
		if err := c.outbox.SendClarificationAnswer(ctx, pending.ID, text); err != nil {
			c.rec.FailTurn("failed to send clarification answer")
			return err
		}
		c.rec.ResolveClarification(text)
		return nil
	}

	c.rec.BeginTurn(text)
	if err := c.outbox.SendUserMessage(ctx, text); err != nil {
		c.rec.FailTurn("failed to send message")
		return err
	}
	return nil
}

// Snapshot returns the current reconciled state.
func (c *SessionClient) Snapshot() timeline.Snapshot {
	return c.rec.Snapshot()
}

// View returns the current renderable projection.
func (c *SessionClient) View() view.View {
	return view.Project(c.rec.Snapshot())
}

// Ping sends a heartbeat on the channel.
func (c *SessionClient) Ping(ctx context.Context) error {
	return c.channel.Ping(ctx)
}

// History fetches the stored conversation for the bound session.
func (c *SessionClient) History(ctx context.Context) (*Conversation, error) {
	sessionID := c.channel.SessionID()
	if sessionID == "" {
		return nil, fmt.Errorf("no session bound")
	}

	url := fmt.Sprintf("%s/api/conversation/%s", c.serverURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: server returned %d", resp.StatusCode)
	}
	var conv Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &conv, nil
}

// Close tears down the channel. The session id is retained, so a later
// Resume with it picks the conversation back up.
func (c *SessionClient) Close() {
	c.channel.Disconnect()
	slog.Debug("Session client closed", "session_id", c.channel.SessionID())
}
