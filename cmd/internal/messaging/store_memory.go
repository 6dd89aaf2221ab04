package messaging

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	memDefaultPageSize = 50
	memMaxPageSize     = 200

	// maxPageStart bounds page*pageSize so the offset arithmetic can never
	// overflow. Pages past it are beyond any real conversation and read as
	// empty.
	maxPageStart = 1 << 31
)

// MemoryStore is a dev/test fallback when no database is configured. It
// implements both ConversationStore and MessageStore over the same state so
// that message appends, unread counters, and snippets mutate atomically.
//
// A single mutex guards everything; that is a stronger serialization than the
// per-conversation locking the Postgres store uses, which is acceptable for a
// dev store.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConversation

	// active indexes the at-most-one pending/accepted conversation per
	// unordered user pair.
	active map[string]string // pairKey -> conversation id
}

type memConversation struct {
	conv Conversation
	msgs []Message // ordered by seq ASC
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:  make(map[string]*memConversation),
		active: make(map[string]string),
	}
}

// pairKey is the unordered-pair identity used for the active index and for
// the advisory lock in the Postgres store. It travels to Postgres as a text
// parameter, so the separator must be valid UTF-8 and must not be NUL.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x1f" + b
}

// Create inserts a new conversation, enforcing the one-active-per-pair rule.
func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	initiator := strings.TrimSpace(in.InitiatorID)
	recipient := strings.TrimSpace(in.RecipientID)
	if initiator == "" || recipient == "" || initiator == recipient {
		return Conversation{}, ErrInvalidArgument
	}
	if in.Status != StatusPending && in.Status != StatusAccepted {
		return Conversation{}, ErrInvalidArgument
	}
	intro := strings.TrimSpace(in.IntroMessage)
	if intro == "" {
		return Conversation{}, ErrInvalidArgument
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(initiator, recipient)
	if _, exists := s.active[key]; exists {
		return Conversation{}, ErrConflict
	}

	id, err := newULID(now)
	if err != nil {
		return Conversation{}, err
	}

	mc := &memConversation{
		conv: Conversation{
			ID:              id,
			InitiatorID:     initiator,
			RecipientID:     recipient,
			Status:          in.Status,
			IntroMessage:    intro,
			CreatedAt:       now,
			LastMessageAt:   now,
			LastMessage:     intro,
			RecipientUnread: 1,
			NextSeq:         1,
		},
	}

	if in.Status == StatusAccepted {
		// Pre-accepted creation (mutual interest): the recipient has not
		// seen the intro yet, so it stays unread.
		if err := materializeIntroMem(mc, now, false); err != nil {
			return Conversation{}, err
		}
	}

	s.convs[id] = mc
	s.active[key] = id
	return mc.conv, nil
}

// Get returns a conversation by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return mc.conv, nil
}

// FindActiveBetween returns the pending or accepted conversation between the
// pair, or ErrNotFound.
func (s *MemoryStore) FindActiveBetween(ctx context.Context, userA, userB string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[pairKey(userA, userB)]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.convs[id].conv, nil
}

// ListForUser returns the caller's conversations matching the filter, ordered
// by LastMessageAt descending.
func (s *MemoryStore) ListForUser(ctx context.Context, f ListFilter) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.UserID) == "" {
		return nil, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, mc := range s.convs {
		c := mc.conv
		switch f.Role {
		case RoleInitiator:
			if c.InitiatorID != f.UserID {
				continue
			}
		case RoleRecipient:
			if c.RecipientID != f.UserID {
				continue
			}
		default:
			if !c.HasParticipant(f.UserID) {
				continue
			}
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Transition resolves a pending request. Accepting materializes the intro
// message atomically with the status flip; rejecting frees the pair for a
// future request.
func (s *MemoryStore) Transition(ctx context.Context, in TransitionRecord) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if in.To != StatusAccepted && in.To != StatusRejected {
		return Conversation{}, ErrInvalidArgument
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[in.ConversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if in.ActingUserID != mc.conv.RecipientID {
		return Conversation{}, ErrForbidden
	}
	if mc.conv.Status != StatusPending {
		return Conversation{}, ErrInvalidTransition
	}

	mc.conv.Status = in.To
	switch in.To {
	case StatusAccepted:
		// Accepting a request means the recipient has read the intro, so
		// it materializes already-read and the unread badge resets.
		if err := materializeIntroMem(mc, now, true); err != nil {
			return Conversation{}, err
		}
		mc.conv.RecipientUnread = 0
	case StatusRejected:
		delete(s.active, pairKey(mc.conv.InitiatorID, mc.conv.RecipientID))
	}
	return mc.conv, nil
}

// materializeIntroMem appends the intro text as the conversation's first
// message, authored by the initiator. Guarded by IntroMaterialized so a
// replay can never produce a duplicate first message.
func materializeIntroMem(mc *memConversation, now time.Time, read bool) error {
	if mc.conv.IntroMaterialized {
		return nil
	}

	id, err := newULID(now)
	if err != nil {
		return err
	}
	msg := Message{
		ID:             id,
		ConversationID: mc.conv.ID,
		SenderID:       mc.conv.InitiatorID,
		Content:        mc.conv.IntroMessage,
		Seq:            mc.conv.NextSeq,
		SentAt:         now,
		IsRead:         read,
	}
	mc.conv.NextSeq++
	mc.conv.IntroMaterialized = true
	mc.msgs = append(mc.msgs, msg)
	return nil
}

// Append appends a message and updates the conversation's snippet, clock,
// and the counterpart's unread counter in one atomic mutation.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, Conversation{}, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Message{}, Conversation{}, ErrInvalidArgument
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[in.ConversationID]
	if !ok {
		return Message{}, Conversation{}, ErrNotFound
	}
	if !mc.conv.HasParticipant(in.SenderID) {
		return Message{}, Conversation{}, ErrForbidden
	}
	if mc.conv.Status != StatusAccepted {
		return Message{}, Conversation{}, ErrForbidden
	}

	// LastMessageAt is monotonically non-decreasing even if the caller's
	// clock lags the previous append.
	if now.Before(mc.conv.LastMessageAt) {
		now = mc.conv.LastMessageAt
	}

	id, err := newULID(now)
	if err != nil {
		return Message{}, Conversation{}, err
	}
	msg := Message{
		ID:             id,
		ConversationID: mc.conv.ID,
		SenderID:       in.SenderID,
		Content:        content,
		Seq:            mc.conv.NextSeq,
		SentAt:         now,
	}
	mc.conv.NextSeq++
	mc.msgs = append(mc.msgs, msg)

	mc.conv.LastMessageAt = now
	mc.conv.LastMessage = content
	if in.SenderID == mc.conv.InitiatorID {
		mc.conv.RecipientUnread++
	} else {
		mc.conv.InitiatorUnread++
	}

	return msg, mc.conv, nil
}

// ListPage returns one page of messages, newest-first. Pages are independent
// and safe to re-issue.
func (s *MemoryStore) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = memDefaultPageSize
	}
	if pageSize > memMaxPageSize {
		pageSize = memMaxPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	n := len(mc.msgs)
	if page > maxPageStart/pageSize {
		return nil, nil
	}
	start := page * pageSize // offset from the newest end
	if start >= n {
		return nil, nil
	}
	end := start + pageSize
	if end > n {
		end = n
	}

	out := make([]Message, 0, end-start)
	for i := n - 1 - start; i >= n-end; i-- {
		out = append(out, mc.msgs[i])
	}
	return out, nil
}

// MarkReadUpTo marks messages addressed to readerID with seq <= throughSeq as
// read and zeroes the reader's unread counter. Idempotent.
func (s *MemoryStore) MarkReadUpTo(ctx context.Context, conversationID, readerID string, throughSeq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if !mc.conv.HasParticipant(readerID) {
		return ErrForbidden
	}

	remaining := 0
	for i := range mc.msgs {
		if mc.msgs[i].SenderID == readerID {
			continue
		}
		if mc.msgs[i].Seq <= throughSeq {
			mc.msgs[i].IsRead = true
		} else if !mc.msgs[i].IsRead {
			remaining++
		}
	}

	// Counter stays derived from the flags so the two can never drift.
	if readerID == mc.conv.InitiatorID {
		mc.conv.InitiatorUnread = remaining
	} else {
		mc.conv.RecipientUnread = remaining
	}
	return nil
}

// LatestSeq returns the highest assigned sequence number (0 when empty).
func (s *MemoryStore) LatestSeq(ctx context.Context, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	return mc.conv.NextSeq - 1, nil
}
