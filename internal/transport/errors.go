package transport

import "errors"

var (
	// ErrConnectTimeout means session negotiation did not complete within the
	// configured interval. The connect call as a whole has failed; no events
	// were dispatched.
	ErrConnectTimeout = errors.New("session negotiation timed out")

	// ErrClosed means the channel is not in an open state. Senders recover by
	// going through the outbox retry path.
	ErrClosed = errors.New("channel closed")
)
