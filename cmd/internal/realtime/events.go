// Package realtime is the push side of the messaging core: a per-user
// subscription registry and the WebSocket gateway that feeds it.
//
// Delivery is fire-and-forget, at-most-once, best-effort. Undelivered events
// are dropped, never persisted; a reconnecting client re-fetches through the
// messaging REST APIs. Push is a latency optimization, not the source of
// truth.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Server -> client event types.
	TypeSessionReady    = "session.ready"
	TypeMessageNew      = "message.new"
	TypeRequestNew      = "request.new"
	TypeRequestAccepted = "request.accepted"
	TypeRequestRejected = "request.rejected"
	TypeError           = "error"
)

var allowedTypes = map[string]struct{}{
	TypeSessionReady:    {},
	TypeMessageNew:      {},
	TypeRequestNew:      {},
	TypeRequestAccepted: {},
	TypeRequestRejected: {},
	TypeError:           {},
}

// Envelope is the versioned frame pushed over a subscription.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks structural envelope invariants.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// SessionReadyPayload acknowledges an established subscription.
type SessionReadyPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// MessagePayload carries a newly appended message.
type MessagePayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Seq            int64     `json:"seq"`
	SentAt         time.Time `json:"sent_at"`
}

// RequestPayload carries a conversation-request lifecycle event.
type RequestPayload struct {
	ConversationID string    `json:"conversation_id"`
	InitiatorID    string    `json:"initiator_id"`
	RecipientID    string    `json:"recipient_id"`
	Status         string    `json:"status"`
	IntroMessage   string    `json:"intro_message"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// ErrorPayload reports a gateway-level protocol error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope wraps a marshaled payload.
func NewEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}
