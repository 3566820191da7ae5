package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteCreateAndGet(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected generated session id")
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.ID != sess.ID {
		t.Errorf("session id = %q, want %q", got.ID, sess.ID)
	}
	if len(got.Conversation) != 0 {
		t.Errorf("new session has %d messages, want 0", len(got.Conversation))
	}
}

func TestSQLiteGetMissingSession(t *testing.T) {
	store := newTestSQLite(t)

	got, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}
}

func TestSQLiteEnsureSessionIdempotent(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	first, err := store.EnsureSession(ctx, "abc")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := store.AppendMessage(ctx, "abc", StoredMessage{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	second, err := store.EnsureSession(ctx, "abc")
	if err != nil {
		t.Fatalf("EnsureSession again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ensure returned id %q, want %q", second.ID, first.ID)
	}
	if len(second.Conversation) != 1 {
		t.Errorf("ensure lost conversation, got %d messages, want 1", len(second.Conversation))
	}
}

func TestSQLiteAppendAndState(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	if _, err := store.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := store.AppendMessage(ctx, "s1", StoredMessage{Role: "user", Content: "what is the weather"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendMessage(ctx, "s1", StoredMessage{Role: "assistant", Content: "sunny"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.UpdateState(ctx, "s1", map[string]any{"last_url": "https://example.com"}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	sess, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Conversation) != 2 {
		t.Fatalf("got %d messages, want 2", len(sess.Conversation))
	}
	if sess.Conversation[1].Role != "assistant" || sess.Conversation[1].Content != "sunny" {
		t.Errorf("unexpected second message: %+v", sess.Conversation[1])
	}
	if sess.State["last_url"] != "https://example.com" {
		t.Errorf("state last_url = %v, want example.com", sess.State["last_url"])
	}
}

func TestSQLiteAppendUnknownSession(t *testing.T) {
	store := newTestSQLite(t)

	err := store.AppendMessage(context.Background(), "ghost", StoredMessage{Role: "user", Content: "hi"})
	if err == nil {
		t.Fatal("expected error appending to unknown session")
	}
}

func TestSQLiteDeleteSession(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	if _, err := store.EnsureSession(ctx, "gone"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "gone"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := store.GetSession(ctx, "gone")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatal("session still present after delete")
	}
}

func TestSQLiteCleanupExpired(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	if _, err := store.EnsureSession(ctx, "old"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if _, err := store.EnsureSession(ctx, "fresh"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	// Backdate one session past the TTL cutoff.
	stale := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := store.db.Exec(`UPDATE sessions SET updated_at = ? WHERE session_id = ?`, stale, "old"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, DefaultTTL)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d sessions, want 1", removed)
	}
	if got, _ := store.GetSession(ctx, "old"); got != nil {
		t.Error("expired session survived cleanup")
	}
	if got, _ := store.GetSession(ctx, "fresh"); got == nil {
		t.Error("fresh session removed by cleanup")
	}
}
