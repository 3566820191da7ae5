package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each session is one JSON blob at
// session:<id> with a rolling TTL, so expiry needs no background worker.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store from a redis:// URL.
func NewRedis(redisURL string, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func sessionKey(id string) string {
	return "session:" + id
}

// CreateSession creates a new session with a generated id.
func (s *RedisStore) CreateSession(ctx context.Context) (*Session, error) {
	return s.create(ctx, uuid.NewString())
}

func (s *RedisStore) create(ctx context.Context, id string) (*Session, error) {
	now := time.Now().Unix()
	sess := &Session{
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		State:        map[string]any{},
		Conversation: []StoredMessage{},
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// EnsureSession returns the session, creating it when absent.
func (s *RedisStore) EnsureSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return s.create(ctx, id)
}

// GetSession retrieves a session, or nil if it does not exist.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// AppendMessage appends one conversation entry.
func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg StoredMessage) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("append to unknown session %s", id)
	}
	sess.Conversation = append(sess.Conversation, msg)
	return s.write(ctx, sess)
}

// UpdateState merges the given keys into the session state.
func (s *RedisStore) UpdateState(ctx context.Context, id string, updates map[string]any) error {
	sess, err := s.GetSession(ctx, id)
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
	return s.write(ctx, sess)
}

func (s *RedisStore) write(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().Unix()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// CleanupExpired is a no-op on Redis: the rolling TTL already expires idle
// sessions.
func (s *RedisStore) CleanupExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
