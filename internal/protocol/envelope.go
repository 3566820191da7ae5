// Package protocol defines the wire envelope and typed payloads exchanged
// over an agent session channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies a typed envelope on the wire.
type EventKind string

// Inbound event kinds emitted by the agent backend.
const (
	KindSessionInfo      EventKind = "session_info"
	KindThinking         EventKind = "thinking"
	KindPlan             EventKind = "plan"
	KindStep             EventKind = "step"
	KindToolUsage        EventKind = "tool_usage"
	KindCUAEvent         EventKind = "cua_event"
	KindCUAReasoning     EventKind = "cua_reasoning"
	KindExecuting        EventKind = "executing"
	KindExecutingStep    EventKind = "executing_step"
	KindComplete         EventKind = "complete"
	KindError            EventKind = "error"
	KindClarification    EventKind = "clarification"
	KindCUAClarification EventKind = "cua_clarification"
	KindPong             EventKind = "pong"
)

// Outbound event kinds sent by the client.
const (
	KindMessage               EventKind = "message"
	KindClarificationResponse EventKind = "clarification_response"
	KindPing                  EventKind = "ping"
)

// KindAll is the reserved wildcard kind for subscribers that want every
// envelope. It never appears on the wire.
const KindAll EventKind = "all"

// ErrMalformedEnvelope indicates an envelope that could not be decoded or is
// missing required fields. Malformed envelopes are dropped, never fatal.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the bidirectional wire frame: a kind tag plus a kind-specific
// payload. Outbound user messages carry their text at the top level instead
// of inside Data.
type Envelope struct {
	Type    EventKind       `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// statusKinds is the set of inbound kinds the reconciler consumes.
var statusKinds = map[EventKind]bool{
	KindThinking:         true,
	KindPlan:             true,
	KindStep:             true,
	KindToolUsage:        true,
	KindCUAEvent:         true,
	KindCUAReasoning:     true,
	KindExecuting:        true,
	KindExecutingStep:    true,
	KindComplete:         true,
	KindError:            true,
	KindClarification:    true,
	KindCUAClarification: true,
}

// IsStatus reports whether the kind carries turn progress for the timeline.
func (k EventKind) IsStatus() bool {
	return statusKinds[k]
}

// ParseEnvelope decodes a raw wire frame. An empty or missing type is
// malformed; unknown kinds are preserved so the wildcard subscriber can still
// observe them.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// NewEnvelope builds an envelope with a marshaled payload.
func NewEnvelope(kind EventKind, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Data: data}, nil
}

// NewUserMessage builds the outbound user message frame. The text rides at
// the top level of the envelope rather than in Data.
func NewUserMessage(text string) Envelope {
	return Envelope{Type: KindMessage, Message: text}
}

// DecodeData unmarshals the envelope payload into T. A nil payload decodes to
// the zero value so kinds with optional data do not error.
func DecodeData[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s data: %v", ErrMalformedEnvelope, env.Type, err)
	}
	return v, nil
}
