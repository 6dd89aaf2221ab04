package realtime

import (
	"encoding/json"
	"time"

	"shelfswap/cmd/internal/messaging"
)

// Notifier adapts the Dispatcher to the messaging.Notifier contract,
// serializing store results into wire envelopes. The service calls it only
// after a successful commit.
type Notifier struct {
	d *Dispatcher
}

// NewNotifier constructs a Notifier over d.
func NewNotifier(d *Dispatcher) *Notifier {
	return &Notifier{d: d}
}

// NewRequest pushes a request event to the recipient.
func (n *Notifier) NewRequest(conv messaging.Conversation) {
	n.publishRequest(TypeRequestNew, conv, conv.RecipientID)
}

// RequestAccepted pushes the resolution to both participants.
func (n *Notifier) RequestAccepted(conv messaging.Conversation) {
	n.publishRequest(TypeRequestAccepted, conv, conv.InitiatorID, conv.RecipientID)
}

// RequestRejected pushes the resolution to the initiator only.
func (n *Notifier) RequestRejected(conv messaging.Conversation) {
	n.publishRequest(TypeRequestRejected, conv, conv.InitiatorID)
}

// NewMessage pushes a freshly appended message to the other participant.
func (n *Notifier) NewMessage(conv messaging.Conversation, msg messaging.Message) {
	if n == nil || n.d == nil {
		return
	}
	to := conv.OtherParticipant(msg.SenderID)
	if to == "" {
		return
	}

	payload, err := json.Marshal(MessagePayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Seq:            msg.Seq,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		return
	}
	n.d.Publish(to, NewEnvelope(TypeMessageNew, payload, time.Now().UTC()))
}

func (n *Notifier) publishRequest(typ string, conv messaging.Conversation, to ...string) {
	if n == nil || n.d == nil {
		return
	}

	payload, err := json.Marshal(RequestPayload{
		ConversationID: conv.ID,
		InitiatorID:    conv.InitiatorID,
		RecipientID:    conv.RecipientID,
		Status:         string(conv.Status),
		IntroMessage:   conv.IntroMessage,
		LastMessageAt:  conv.LastMessageAt,
	})
	if err != nil {
		return
	}

	env := NewEnvelope(typ, payload, time.Now().UTC())
	for _, userID := range to {
		n.d.Publish(userID, env)
	}
}
