package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	valid := Envelope{V: Version, Type: TypeMessageNew, ID: "e1", TS: now, Payload: json.RawMessage(`{}`)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{name: "wrong version", env: Envelope{V: 2, Type: TypeMessageNew, ID: "e1", TS: now, Payload: json.RawMessage(`{}`)}},
		{name: "missing type", env: Envelope{V: Version, ID: "e1", TS: now, Payload: json.RawMessage(`{}`)}},
		{name: "unknown type", env: Envelope{V: Version, Type: "conversation.vanish", ID: "e1", TS: now, Payload: json.RawMessage(`{}`)}},
		{name: "missing id", env: Envelope{V: Version, Type: TypeMessageNew, TS: now, Payload: json.RawMessage(`{}`)}},
		{name: "missing ts", env: Envelope{V: Version, Type: TypeMessageNew, ID: "e1", Payload: json.RawMessage(`{}`)}},
		{name: "missing payload", env: Envelope{V: Version, Type: TypeMessageNew, ID: "e1", TS: now}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.env.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := NewEnvelope(TypeSessionReady, json.RawMessage(`{"session_id":"s1","user_id":"u1"}`), now)
	b := NewEnvelope(TypeSessionReady, json.RawMessage(`{}`), now)

	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("envelope ids must be unique: %q", a.ID)
	}
	if !a.TS.Equal(now) {
		t.Fatalf("ts=%v want %v", a.TS, now)
	}
}

func TestEnvelopeRoundTripKeys(t *testing.T) {
	t.Parallel()

	env := NewEnvelope(TypeMessageNew, mustMarshal(t, MessagePayload{
		ConversationID: "c1",
		MessageID:      "m1",
		SenderID:       "alice",
		Content:        "hi",
		Seq:            2,
		SentAt:         time.Now().UTC(),
	}), time.Now().UTC())

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Wire keys are part of the protocol contract.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"v", "type", "id", "ts", "payload"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing wire key %q in %s", key, raw)
		}
	}

	var p map[string]json.RawMessage
	if err := json.Unmarshal(m["payload"], &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, key := range []string{"conversation_id", "message_id", "sender_id", "content", "seq", "sent_at"} {
		if _, ok := p[key]; !ok {
			t.Fatalf("missing payload key %q in %s", key, m["payload"])
		}
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
