package messaging

import (
	"context"
	"time"
)

// CreateRecord is a normalized conversation insert payload.
//
// Status is StatusPending for a regular request, or StatusAccepted when the
// service pre-accepts (mutual interest); in the accepted case the store
// materializes the intro message in the same atomic mutation.
type CreateRecord struct {
	InitiatorID  string
	RecipientID  string
	IntroMessage string
	Status       Status
	Now          time.Time
}

// TransitionRecord describes a lifecycle transition attempt.
type TransitionRecord struct {
	ConversationID string
	To             Status
	ActingUserID   string
	Now            time.Time
}

// ListFilter scopes ListForUser.
type ListFilter struct {
	UserID string
	Status Status // StatusPending/StatusAccepted/StatusRejected, or "" for all
	Role   Role   // RoleInitiator, RoleRecipient, or RoleAny
}

// ConversationStore is the durable record of conversation requests and their
// lifecycle state.
//
// Requirements:
//   - Create rejects a second request for a pair that already has a pending
//     or accepted conversation (ErrConflict); rejected never blocks.
//   - Transition enforces recipient-only accept/reject (ErrForbidden) and
//     pending-only transitions (ErrInvalidTransition), and materializes the
//     intro message atomically with the flip to accepted.
type ConversationStore interface {
	Create(ctx context.Context, in CreateRecord) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	FindActiveBetween(ctx context.Context, userA, userB string) (Conversation, error)
	ListForUser(ctx context.Context, f ListFilter) ([]Conversation, error)
	Transition(ctx context.Context, in TransitionRecord) (Conversation, error)
}

// AppendInput describes a message append.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Now            time.Time
}

// MessageStore is the durable, ordered, append-only log of messages per
// conversation, with a read watermark per participant.
//
// Requirements:
//   - Append assigns SentAt and a monotonic sequence number atomically with
//     the conversation's counter and, in the same mutation, bumps the other
//     participant's unread count and the conversation snippet. Two concurrent
//     appends to one conversation never share a sequence number.
//   - Append fails with ErrForbidden unless the conversation is accepted and
//     the sender is a participant.
//   - ListPage is restartable: each page request is independent and safe to
//     re-issue. Order is newest-first.
//   - MarkReadUpTo is idempotent and zeroes the reader's unread counter in
//     the same mutation, so counters never desynchronize from the log.
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (Message, Conversation, error)
	ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]Message, error)
	MarkReadUpTo(ctx context.Context, conversationID, readerID string, throughSeq int64) error
	LatestSeq(ctx context.Context, conversationID string) (int64, error)
}
