package protocol

import (
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"thinking","data":{"message":"Processing..."}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Type != KindThinking {
		t.Errorf("Expected kind thinking, got %s", env.Type)
	}

	payload, err := DecodeData[Thinking](env)
	if err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if payload.Message != "Processing..." {
		t.Errorf("Expected message Processing..., got %q", payload.Message)
	}
}

func TestParseEnvelopeMissingType(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"data":{"message":"hi"}}`))
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestParseEnvelopeInvalidJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"type":`))
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestParseEnvelopeUnknownKindKept(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"future_thing","data":{}}`))
	if err != nil {
		t.Fatalf("Unknown kinds should parse: %v", err)
	}
	if env.Type != "future_thing" {
		t.Errorf("Expected kind preserved, got %s", env.Type)
	}
	if env.Type.IsStatus() {
		t.Error("Unknown kind should not be a status kind")
	}
}

func TestDecodeDataEmptyPayload(t *testing.T) {
	payload, err := DecodeData[Complete](Envelope{Type: KindComplete})
	if err != nil {
		t.Fatalf("Empty payload should decode to zero value: %v", err)
	}
	if payload.Message != "" || payload.KeepBrowserOpen {
		t.Errorf("Expected zero value, got %+v", payload)
	}
}

func TestDecodeDataWrongShape(t *testing.T) {
	env := Envelope{Type: KindStep, Data: []byte(`{"current":"one"}`)}
	if _, err := DecodeData[Step](env); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestNewUserMessageTopLevelText(t *testing.T) {
	env := NewUserMessage("hello")
	if env.Type != KindMessage {
		t.Errorf("Expected kind message, got %s", env.Type)
	}
	if env.Message != "hello" {
		t.Errorf("Expected top-level message text, got %q", env.Message)
	}
	if len(env.Data) != 0 {
		t.Errorf("User message must not carry a data payload, got %s", env.Data)
	}
}

func TestStatusKinds(t *testing.T) {
	for _, k := range []EventKind{KindThinking, KindPlan, KindStep, KindToolUsage,
		KindCUAEvent, KindCUAReasoning, KindExecuting, KindExecutingStep,
		KindComplete, KindError, KindClarification, KindCUAClarification} {
		if !k.IsStatus() {
			t.Errorf("Expected %s to be a status kind", k)
		}
	}
	for _, k := range []EventKind{KindSessionInfo, KindPong, KindMessage, KindPing, KindAll} {
		if k.IsStatus() {
			t.Errorf("Expected %s not to be a status kind", k)
		}
	}
}
