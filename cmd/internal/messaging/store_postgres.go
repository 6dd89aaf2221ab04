package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements ConversationStore and MessageStore on PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
//   - Every mutation takes a per-conversation transactional advisory lock (the
//     pair key for Create), so two concurrent sends on one conversation can
//     never interleave their sequence assignment or unread bump. Mutations on
//     different conversations proceed in parallel.
//   - The one-active-conversation-per-pair rule is additionally backed by a
//     partial unique index over (LEAST, GREATEST) of the participant ids.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "shelfswap").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "shelfswap",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

const conversationColumns = `id, initiator_id, recipient_id, status, intro_message, intro_materialized,
	created_at, last_message_at, last_message, initiator_unread, recipient_unread, next_seq`

const messageColumns = `id, conversation_id, sender_id, content, seq, sent_at, is_read`

func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

// lockConversation serializes all writes touching one conversation.
func lockConversation(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// Create inserts a new conversation, enforcing the one-active-per-pair rule.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
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
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the pair, not a conversation id: the row does not exist yet and
	// the duplicate check must be race-free.
	if err := lockConversation(ctx, tx, pairKey(initiator, recipient)); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT id FROM `+conversations+`
		  WHERE status IN ('pending', 'accepted')
		    AND LEAST(initiator_id, recipient_id) = LEAST($1::text, $2::text)
		    AND GREATEST(initiator_id, recipient_id) = GREATEST($1::text, $2::text)`,
		initiator, recipient,
	).Scan(&existing)
	if err == nil {
		return Conversation{}, ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, err
	}

	id, err := newULID(now)
	if err != nil {
		return Conversation{}, err
	}

	conv := Conversation{
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
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		conv.ID, conv.InitiatorID, conv.RecipientID, string(conv.Status),
		conv.IntroMessage, conv.IntroMaterialized,
		conv.CreatedAt, conv.LastMessageAt, conv.LastMessage,
		conv.InitiatorUnread, conv.RecipientUnread, conv.NextSeq,
	); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	if in.Status == StatusAccepted {
		// Pre-accepted creation: the recipient has not seen the intro yet.
		conv, err = s.materializeIntroTx(ctx, tx, conv, now, false)
		if err != nil {
			return Conversation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// materializeIntroTx inserts the intro text as message seq 1 inside the
// caller's transaction and advances the conversation counter.
func (s *PostgresStore) materializeIntroTx(ctx context.Context, tx pgx.Tx, conv Conversation, now time.Time, read bool) (Conversation, error) {
	if conv.IntroMaterialized {
		return conv, nil
	}

	msgID, err := newULID(now)
	if err != nil {
		return Conversation{}, err
	}

	messages := pgIdent(s.schema, "messages")
	conversations := pgIdent(s.schema, "conversations")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msgID, conv.ID, conv.InitiatorID, conv.IntroMessage, conv.NextSeq, now, read,
	); err != nil {
		return Conversation{}, fmt.Errorf("insert intro message: %w", err)
	}

	conv.NextSeq++
	conv.IntroMaterialized = true

	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+`
		    SET next_seq = $2, intro_materialized = TRUE
		  WHERE id = $1`,
		conv.ID, conv.NextSeq,
	); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// Get returns a conversation by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+` WHERE id = $1`, id)
	return scanConversation(row)
}

// FindActiveBetween returns the pending or accepted conversation between the
// pair, or ErrNotFound.
func (s *PostgresStore) FindActiveBetween(ctx context.Context, userA, userB string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE status IN ('pending', 'accepted')
		    AND LEAST(initiator_id, recipient_id) = LEAST($1::text, $2::text)
		    AND GREATEST(initiator_id, recipient_id) = GREATEST($1::text, $2::text)`,
		userA, userB)
	return scanConversation(row)
}

// ListForUser returns the user's conversations matching the filter, ordered
// by last_message_at descending.
func (s *PostgresStore) ListForUser(ctx context.Context, f ListFilter) ([]Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}
	userID := strings.TrimSpace(f.UserID)
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cond string
	switch f.Role {
	case RoleInitiator:
		cond = `initiator_id = $1`
	case RoleRecipient:
		cond = `recipient_id = $1`
	default:
		cond = `(initiator_id = $1 OR recipient_id = $1)`
	}

	args := []any{userID}
	if f.Status != "" {
		cond += ` AND status = $2`
		args = append(args, string(f.Status))
	}

	conversations := pgIdent(s.schema, "conversations")
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE `+cond+`
		  ORDER BY last_message_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transition resolves a pending request. Accepting materializes the intro
// message in the same transaction as the status flip.
func (s *PostgresStore) Transition(ctx context.Context, in TransitionRecord) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
	}
	if in.To != StatusAccepted && in.To != StatusRejected {
		return Conversation{}, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversation(ctx, tx, in.ConversationID); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	row := tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+` WHERE id = $1`,
		in.ConversationID)
	conv, err := scanConversation(row)
	if err != nil {
		return Conversation{}, err
	}

	if in.ActingUserID != conv.RecipientID {
		return Conversation{}, ErrForbidden
	}
	if conv.Status != StatusPending {
		return Conversation{}, ErrInvalidTransition
	}

	conv.Status = in.To
	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+` SET status = $2 WHERE id = $1`,
		conv.ID, string(conv.Status),
	); err != nil {
		return Conversation{}, err
	}

	if in.To == StatusAccepted {
		// Accepting means the recipient has read the intro: it
		// materializes already-read and the unread badge resets.
		conv, err = s.materializeIntroTx(ctx, tx, conv, now, true)
		if err != nil {
			return Conversation{}, err
		}
		conv.RecipientUnread = 0
		if _, err := tx.Exec(ctx,
			`UPDATE `+conversations+` SET recipient_unread = 0 WHERE id = $1`,
			conv.ID,
		); err != nil {
			return Conversation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// Append appends a message and updates the conversation's snippet, clock,
// and the counterpart's unread counter in one transaction.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, Conversation, error) {
	if s == nil || s.pool == nil {
		return Message{}, Conversation{}, errors.New("messaging: nil store")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Message{}, Conversation{}, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return Message{}, Conversation{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Message{}, Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversation(ctx, tx, in.ConversationID); err != nil {
		return Message{}, Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	row := tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+` WHERE id = $1`,
		in.ConversationID)
	conv, err := scanConversation(row)
	if err != nil {
		return Message{}, Conversation{}, err
	}

	if !conv.HasParticipant(in.SenderID) {
		return Message{}, Conversation{}, ErrForbidden
	}
	if conv.Status != StatusAccepted {
		return Message{}, Conversation{}, ErrForbidden
	}

	// Keep SentAt monotonically non-decreasing within the conversation.
	if now.Before(conv.LastMessageAt) {
		now = conv.LastMessageAt
	}

	msgID, err := newULID(now)
	if err != nil {
		return Message{}, Conversation{}, err
	}

	msg := Message{
		ID:             msgID,
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        content,
		Seq:            conv.NextSeq,
		SentAt:         now,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Seq, msg.SentAt, msg.IsRead,
	); err != nil {
		return Message{}, Conversation{}, fmt.Errorf("insert message: %w", err)
	}

	conv.NextSeq++
	conv.LastMessageAt = now
	conv.LastMessage = content
	if in.SenderID == conv.InitiatorID {
		conv.RecipientUnread++
	} else {
		conv.InitiatorUnread++
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+`
		    SET next_seq = $2,
		        last_message_at = $3,
		        last_message = $4,
		        initiator_unread = $5,
		        recipient_unread = $6
		  WHERE id = $1`,
		conv.ID, conv.NextSeq, conv.LastMessageAt, conv.LastMessage,
		conv.InitiatorUnread, conv.RecipientUnread,
	); err != nil {
		return Message{}, Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, Conversation{}, err
	}
	return msg, conv, nil
}

// ListPage returns one page of messages ordered by seq DESC (newest first).
func (s *PostgresStore) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}
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

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+` WHERE id = $1`, conversationID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Past maxPageStart the OFFSET arithmetic could overflow; such pages are
	// beyond any real conversation anyway.
	if page > maxPageStart/pageSize {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY seq DESC
		 OFFSET $2 LIMIT $3`,
		conversationID, page*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Seq, &m.SentAt, &m.IsRead); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkReadUpTo marks messages addressed to readerID with seq <= throughSeq as
// read and re-derives the reader's unread counter from the flags. Idempotent.
func (s *PostgresStore) MarkReadUpTo(ctx context.Context, conversationID, readerID string, throughSeq int64) error {
	if s == nil || s.pool == nil {
		return errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversation(ctx, tx, conversationID); err != nil {
		return err
	}

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	row := tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+` WHERE id = $1`,
		conversationID)
	conv, err := scanConversation(row)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return ErrForbidden
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+messages+`
		    SET is_read = TRUE
		  WHERE conversation_id = $1 AND sender_id <> $2 AND seq <= $3 AND NOT is_read`,
		conversationID, readerID, throughSeq,
	); err != nil {
		return err
	}

	var remaining int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+messages+`
		  WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read`,
		conversationID, readerID,
	).Scan(&remaining); err != nil {
		return err
	}

	unreadColumn := "recipient_unread"
	if readerID == conv.InitiatorID {
		unreadColumn = "initiator_unread"
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+` SET `+unreadColumn+` = $2 WHERE id = $1`,
		conversationID, remaining,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LatestSeq returns the highest assigned sequence number (0 when empty).
func (s *PostgresStore) LatestSeq(ctx context.Context, conversationID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var nextSeq int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_seq FROM `+conversations+` WHERE id = $1`, conversationID).Scan(&nextSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return nextSeq - 1, nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanConversation(row pgRow) (Conversation, error) {
	var (
		c      Conversation
		status string
	)
	err := row.Scan(
		&c.ID, &c.InitiatorID, &c.RecipientID, &status, &c.IntroMessage, &c.IntroMaterialized,
		&c.CreatedAt, &c.LastMessageAt, &c.LastMessage,
		&c.InitiatorUnread, &c.RecipientUnread, &c.NextSeq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.Status = Status(status)
	return c, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
