// Package messaging contains the conversation-request lifecycle, ordered
// message persistence, unread tracking, and the orchestrating service that is
// the only writer to the stores.
package messaging

import "time"

// Status is the lifecycle state of a conversation.
//
// Transitions are one-way: pending -> accepted or pending -> rejected.
// Nothing transitions out of accepted or rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Active reports whether a conversation in this status blocks a new request
// between the same pair of users.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

// Conversation is a 1:1 conversation between an initiator and a recipient.
// It starts as a request (pending) and is resolved by the recipient.
type Conversation struct {
	ID          string
	InitiatorID string
	RecipientID string
	Status      Status

	// IntroMessage is the text supplied at request time. It is surfaced as
	// preview while pending and materialized exactly once as message seq 1
	// when the request is accepted.
	IntroMessage      string
	IntroMaterialized bool

	CreatedAt     time.Time
	LastMessageAt time.Time
	LastMessage   string

	InitiatorUnread int
	RecipientUnread int

	// NextSeq is the sequence number the next appended message will receive.
	// Owned by the store; callers must treat it as opaque.
	NextSeq int64
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.InitiatorID || userID == c.RecipientID)
}

// OtherParticipant returns the counterpart of userID, or "" when userID is
// not a participant.
func (c Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.InitiatorID:
		return c.RecipientID
	case c.RecipientID:
		return c.InitiatorID
	}
	return ""
}

// UnreadFor returns the unread count as seen by userID.
func (c Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.InitiatorID:
		return c.InitiatorUnread
	case c.RecipientID:
		return c.RecipientUnread
	}
	return 0
}

// Message is one entry in a conversation's append-only log.
//
// Ordering is total within a conversation via Seq; SentAt is the server
// clock at append time and is monotonically non-decreasing per conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Seq            int64
	SentAt         time.Time

	// IsRead is from the recipient's perspective (the participant the
	// message is addressed to).
	IsRead bool
}

// Role selects which side of a conversation a listing is scoped to.
type Role string

const (
	RoleAny       Role = ""
	RoleInitiator Role = "initiator"
	RoleRecipient Role = "recipient"
)
