package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	// Max message/intro length (runes), matching the client-side cap.
	maxContentChars = 1000
)

// MutualInterest reports whether two users already have matching trade
// interest (each owns a book the other wants). When it fires, a new
// conversation skips the request stage entirely.
//
// The check lives with the shelf/wishlist collaborator; the core only
// consumes the verdict. Errors are treated as "no" so a flaky collaborator
// degrades to the normal request flow.
type MutualInterest interface {
	HaveMutualInterest(ctx context.Context, userA, userB string) (bool, error)
}

// Service orchestrates the conversation-request lifecycle and the message
// send/read flows. It is the only writer to the stores; every mutating call
// commits first and notifies the dispatcher after, so a failed write can
// never produce a phantom push.
type Service struct {
	log      *slog.Logger
	convs    ConversationStore
	msgs     MessageStore
	notifier Notifier
	mutual   MutualInterest

	now func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithNotifier wires a realtime dispatcher. Default: drop all events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMutualInterest wires the shelf/wishlist collaborator that can
// pre-accept conversations. Default: every new conversation starts pending.
func WithMutualInterest(m MutualInterest) Option {
	return func(s *Service) {
		s.mutual = m
	}
}

// WithClock overrides the service clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, convs ConversationStore, msgs MessageStore, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:      log,
		convs:    convs,
		msgs:     msgs,
		notifier: NopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// StartConversation creates a conversation request from initiator to
// recipient with the given intro text.
//
// The new conversation is pending unless the mutual-interest collaborator
// pre-accepts it. The recipient is notified after commit.
func (s *Service) StartConversation(ctx context.Context, initiatorID, recipientID, text string) (Conversation, error) {
	initiatorID = strings.TrimSpace(initiatorID)
	recipientID = strings.TrimSpace(recipientID)
	if initiatorID == "" || recipientID == "" || initiatorID == recipientID {
		return Conversation{}, ErrInvalidArgument
	}
	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > maxContentChars {
		return Conversation{}, ErrInvalidArgument
	}

	status := StatusPending
	if s.mutual != nil {
		ok, err := s.mutual.HaveMutualInterest(ctx, initiatorID, recipientID)
		if err != nil {
			s.log.Warn("messaging.mutual_interest.fail", "err", err)
		} else if ok {
			status = StatusAccepted
		}
	}

	conv, err := s.convs.Create(ctx, CreateRecord{
		InitiatorID:  initiatorID,
		RecipientID:  recipientID,
		IntroMessage: text,
		Status:       status,
		Now:          s.now(),
	})
	if err != nil {
		return Conversation{}, err
	}

	metricConversationsStarted.Inc()
	s.log.Info("messaging.conversation.start",
		"conversation_id", conv.ID, "initiator_id", initiatorID, "recipient_id", recipientID,
		"status", string(conv.Status))

	s.notifier.NewRequest(conv)
	return conv, nil
}

// AcceptRequest transitions a pending request to accepted. Only the
// recipient may accept; the intro message materializes as the conversation's
// first entry. Both participants are notified.
func (s *Service) AcceptRequest(ctx context.Context, conversationID, actingUserID string) (Conversation, error) {
	conv, err := s.convs.Transition(ctx, TransitionRecord{
		ConversationID: conversationID,
		To:             StatusAccepted,
		ActingUserID:   actingUserID,
		Now:            s.now(),
	})
	if err != nil {
		return Conversation{}, err
	}

	metricRequestsResolved.WithLabelValues("accepted").Inc()
	s.log.Info("messaging.request.accept", "conversation_id", conv.ID, "recipient_id", actingUserID)

	s.notifier.RequestAccepted(conv)
	return conv, nil
}

// RejectRequest transitions a pending request to rejected. Only the
// recipient may reject. The initiator is notified; a rejected conversation
// does not block a future new request between the pair.
func (s *Service) RejectRequest(ctx context.Context, conversationID, actingUserID string) (Conversation, error) {
	conv, err := s.convs.Transition(ctx, TransitionRecord{
		ConversationID: conversationID,
		To:             StatusRejected,
		ActingUserID:   actingUserID,
		Now:            s.now(),
	})
	if err != nil {
		return Conversation{}, err
	}

	metricRequestsResolved.WithLabelValues("rejected").Inc()
	s.log.Info("messaging.request.reject", "conversation_id", conv.ID, "recipient_id", actingUserID)

	s.notifier.RequestRejected(conv)
	return conv, nil
}

// SendMessage appends a message to an accepted conversation and pushes it to
// the other participant after commit.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len([]rune(content)) > maxContentChars {
		return Message{}, ErrInvalidArgument
	}

	msg, conv, err := s.msgs.Append(ctx, AppendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Now:            s.now(),
	})
	if err != nil {
		return Message{}, err
	}

	metricMessagesSent.Inc()
	s.log.Info("messaging.message.send",
		"conversation_id", conv.ID, "sender_id", senderID, "seq", msg.Seq)

	s.notifier.NewMessage(conv, msg)
	return msg, nil
}

// GetConversationMessages returns one page of messages for a participant.
//
// The store pages newest-first; the service reverses each page to
// oldest-first for chat rendering. This transposition is deliberate, not a
// side effect of storage order.
func (s *Service) GetConversationMessages(ctx context.Context, conversationID, requesterID string, page, pageSize int) ([]Message, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, ErrForbidden
	}

	msgs, err := s.msgs.ListPage(ctx, conversationID, page, pageSize)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkMessagesRead moves the requester's read watermark to the latest
// sequence number, zeroing their unread count. Idempotent.
func (s *Service) MarkMessagesRead(ctx context.Context, conversationID, requesterID string) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(requesterID) {
		return ErrForbidden
	}

	latest, err := s.msgs.LatestSeq(ctx, conversationID)
	if err != nil {
		return err
	}
	return s.msgs.MarkReadUpTo(ctx, conversationID, requesterID, latest)
}

// CheckExistingConversation returns the pending or accepted conversation
// between the pair, or ErrNotFound. Read-only; clients use it to choose
// between "open chat" and "send a request".
func (s *Service) CheckExistingConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	return s.convs.FindActiveBetween(ctx, userA, userB)
}

// ListConversations returns the caller's accepted conversations, most
// recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.convs.ListForUser(ctx, ListFilter{UserID: userID, Status: StatusAccepted})
}

// ListReceivedRequests returns pending requests addressed to the caller.
func (s *Service) ListReceivedRequests(ctx context.Context, userID string) ([]Conversation, error) {
	return s.convs.ListForUser(ctx, ListFilter{UserID: userID, Status: StatusPending, Role: RoleRecipient})
}

// ListSentRequests returns pending requests the caller initiated.
func (s *Service) ListSentRequests(ctx context.Context, userID string) ([]Conversation, error) {
	return s.convs.ListForUser(ctx, ListFilter{UserID: userID, Status: StatusPending, Role: RoleInitiator})
}
