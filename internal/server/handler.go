package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agentwire/internal/agent"
	"agentwire/internal/history"
)

// Handler serves the REST surface next to the WebSocket endpoint.
type Handler struct {
	store history.Store
}

// NewHandler creates a new Handler.
func NewHandler(store history.Store) *Handler {
	return &Handler{store: store}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health reports service liveness and store connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Warn("Health check store ping failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Conversation returns the stored conversation for a session.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"session_id":   sess.ID,
		"conversation": sess.Conversation,
		"state":        sess.State,
	})
}

// DeleteConversation removes a stored session.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("Failed to delete session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// NewRouter assembles the full HTTP surface.
func NewRouter(store history.Store, runner agent.Runner, reg *Registry, allowedOrigin string, isDev bool) chi.Router {
	h := NewHandler(store)
	ws := NewWebSocketHandler(store, runner, reg, allowedOrigin, isDev)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/conversation/{sessionID}", h.Conversation)
		r.Delete("/conversation/{sessionID}", h.DeleteConversation)
	})
	r.Handle("/ws/{sessionID}", ws)

	return r
}
