package messaging

// Notifier receives lifecycle and message events after a store commit.
//
// Delivery is fire-and-forget, at-most-once: implementations must never block
// the calling request, and durability of truth stays in the stores. A client
// that missed a push re-fetches through the read APIs.
type Notifier interface {
	// NewRequest fires to the recipient when a conversation request is
	// created (or, for a pre-accepted conversation, announces it directly).
	NewRequest(conv Conversation)

	// RequestAccepted fires to both participants.
	RequestAccepted(conv Conversation)

	// RequestRejected fires to the initiator only; the recipient is not
	// notified of their own action.
	RequestRejected(conv Conversation)

	// NewMessage fires to the participant the message is addressed to.
	NewMessage(conv Conversation, msg Message)
}

// NopNotifier drops all events. Used when no realtime dispatcher is wired.
type NopNotifier struct{}

func (NopNotifier) NewRequest(Conversation)          {}
func (NopNotifier) RequestAccepted(Conversation)     {}
func (NopNotifier) RequestRejected(Conversation)     {}
func (NopNotifier) NewMessage(Conversation, Message) {}
