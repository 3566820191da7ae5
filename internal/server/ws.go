package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"agentwire/internal/agent"
	"agentwire/internal/history"
	"agentwire/internal/protocol"
)

// tokenNew requests a fresh session id instead of resuming one.
const tokenNew = "new"

// WebSocketHandler upgrades /ws/{sessionID} requests and runs the session
// message loop.
type WebSocketHandler struct {
	store         history.Store
	runner        agent.Runner
	reg           *Registry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(store history.Store, runner agent.Runner, reg *Registry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		store:         store,
		runner:        runner,
		reg:           reg,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" || sessionID == tokenNew {
		sessionID = uuid.NewString()
	}
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if _, err := h.store.EnsureSession(ctx, sessionID); err != nil {
		slog.Error("Failed to ensure session", "error", err, "session_id", sessionID)
		return
	}

	live := h.reg.Register(sessionID, ws)
	defer h.reg.Unregister(sessionID, live)

	// The session id frame must be first on the wire.
	info, err := protocol.NewEnvelope(protocol.KindSessionInfo, protocol.SessionInfo{SessionID: sessionID})
	if err != nil {
		slog.Error("Failed to build session_info", "error", err)
		return
	}
	if err := live.write(ctx, info); err != nil {
		slog.Warn("Failed to send session_info", "error", err, "session_id", sessionID)
		return
	}

	h.readLoop(ctx, sessionID, live)
	slog.Info("Session connection ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, sessionID string, live *liveSession) {
	for {
		_, raw, err := live.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			slog.Warn("Dropping malformed frame", "error", err, "session_id", sessionID)
			continue
		}

		switch env.Type {
		case protocol.KindMessage:
			text := strings.TrimSpace(env.Message)
			if text == "" {
				continue
			}
			if !live.tryBeginTurn() {
				slog.Warn("Turn already in flight, dropping message", "session_id", sessionID)
				continue
			}
			go h.runTurn(ctx, sessionID, live, text)

		case protocol.KindClarificationResponse:
			resp, err := protocol.DecodeData[protocol.ClarificationResponse](env)
			if err != nil {
				slog.Warn("Bad clarification response", "error", err, "session_id", sessionID)
				continue
			}
			select {
			case live.answers <- resp.Response:
			default:
				slog.Warn("No pending clarification, dropping answer", "session_id", sessionID, "clarification_id", resp.ID)
			}

		case protocol.KindPing:
			ping, err := protocol.DecodeData[protocol.Ping](env)
			if err != nil {
				continue
			}
			pong, err := protocol.NewEnvelope(protocol.KindPong, protocol.Pong{Timestamp: ping.Timestamp})
			if err != nil {
				continue
			}
			if err := live.write(ctx, pong); err != nil {
				slog.Debug("Failed to send pong", "error", err, "session_id", sessionID)
			}

		default:
			slog.Debug("Ignoring inbound frame", "type", string(env.Type), "session_id", sessionID)
		}
	}
}

// runTurn drives the runner for one user message and mirrors the
// conversation into the history store.
func (h *WebSocketHandler) runTurn(ctx context.Context, sessionID string, live *liveSession, text string) {
	defer live.endTurn()

	if err := h.store.AppendMessage(ctx, sessionID, history.StoredMessage{
		Role:    history.RoleUser,
		Content: text,
	}); err != nil {
		slog.Warn("Failed to record user message", "error", err, "session_id", sessionID)
	}

	emit := func(ctx context.Context, env protocol.Envelope) error {
		h.record(ctx, sessionID, env)
		return live.write(ctx, env)
	}

	req := agent.Request{SessionID: sessionID, Message: text, Answers: live.answers}
	if err := h.runner.Run(ctx, req, emit); err != nil {
		slog.Error("Turn failed", "error", err, "session_id", sessionID)
		fail, buildErr := protocol.NewEnvelope(protocol.KindError, protocol.ErrorData{
			Message: "agent run failed",
		})
		if buildErr == nil {
			if writeErr := live.write(ctx, fail); writeErr != nil {
				slog.Debug("Failed to send error frame", "error", writeErr, "session_id", sessionID)
			}
		}
	}
}

// record mirrors terminal outcomes into the conversation history.
func (h *WebSocketHandler) record(ctx context.Context, sessionID string, env protocol.Envelope) {
	var content string
	switch env.Type {
	case protocol.KindComplete:
		complete, err := protocol.DecodeData[protocol.Complete](env)
		if err != nil || complete.Message == "" {
			return
		}
		content = complete.Message
	case protocol.KindClarification:
		c, err := protocol.DecodeData[protocol.Clarification](env)
		if err != nil {
			return
		}
		content = c.Message
		if content == "" && len(c.Questions) > 0 {
			content = strings.Join(c.Questions, "\n")
		}
	case protocol.KindCUAClarification:
		q, err := protocol.DecodeData[protocol.CUAClarification](env)
		if err != nil || q.Question == "" {
			return
		}
		content = q.Question
	default:
		return
	}

	if err := h.store.AppendMessage(ctx, sessionID, history.StoredMessage{
		Role:    history.RoleAssistant,
		Content: content,
	}); err != nil {
		slog.Warn("Failed to record assistant message", "error", err, "session_id", sessionID)
	}
}
