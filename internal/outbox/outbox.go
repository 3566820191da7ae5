// Package outbox serializes user-originated sends and owns the
// reconnect-then-retry policy.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentwire/internal/protocol"
)

// ErrSendFailed means the payload could not be delivered even after one
// reconnect attempt. The turn is surfaced as failed; there is no further
// retry, because unbounded retry risks duplicate sends once a socket flaps
// back open mid-retry.
var ErrSendFailed = errors.New("send failed")

// Channel is the slice of the transport the outbox needs.
type Channel interface {
	IsOpen() bool
	Send(ctx context.Context, env protocol.Envelope) error
	Reconnect(ctx context.Context) (string, error)
}

// Queue delivers user messages and clarification answers. Each deliver is
// best-effort-once: one immediate attempt, then at most one
// reconnect-and-resend.
type Queue struct {
	ch Channel
}

// New creates a queue over the given channel.
func New(ch Channel) *Queue {
	return &Queue{ch: ch}
}

// SendUserMessage delivers a plain user message envelope.
func (q *Queue) SendUserMessage(ctx context.Context, text string) error {
	return q.deliver(ctx, protocol.NewUserMessage(text))
}

// SendClarificationAnswer delivers the answer to an outstanding clarification
// request, correlated by id, over the main channel.
func (q *Queue) SendClarificationAnswer(ctx context.Context, clarificationID, text string) error {
	env, err := protocol.NewEnvelope(protocol.KindClarificationResponse, protocol.ClarificationResponse{
		Response: text,
		ID:       clarificationID,
	})
	if err != nil {
		return err
	}
	return q.deliver(ctx, env)
}

// deliver sends the envelope, reconnecting exactly once on failure. The
// payload is written at most twice and only when the first write did not go
// through, so a socket that reopens before the retry fires never produces a
// duplicate delivery.
func (q *Queue) deliver(ctx context.Context, env protocol.Envelope) error {
	err := q.ch.Send(ctx, env)
	if err == nil {
		return nil
	}

	slog.Warn("Send failed, attempting one reconnect", "kind", env.Type, "error", err)
	if _, rerr := q.ch.Reconnect(ctx); rerr != nil {
		return fmt.Errorf("%w: reconnect: %v", ErrSendFailed, rerr)
	}
	if err := q.ch.Send(ctx, env); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrSendFailed, err)
	}
	return nil
}
