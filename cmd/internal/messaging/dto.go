package messaging

import (
	"context"
	"time"
)

type startConversationRequest struct {
	RecipientID    string `json:"recipientId"`
	InitialMessage string `json:"initialMessage"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type participantResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

type conversationResponse struct {
	ID                  string              `json:"id"`
	Initiator           participantResponse `json:"initiator"`
	Recipient           participantResponse `json:"recipient"`
	Status              string              `json:"status"`
	IntroductoryMessage string              `json:"introductoryMessage"`
	CreatedAt           time.Time           `json:"createdAt"`
	LastMessageAt       time.Time           `json:"lastMessageAt"`
	LastMessage         string              `json:"lastMessage"`

	// UnreadMessageCount is from the requesting user's perspective.
	UnreadMessageCount int `json:"unreadMessageCount"`
}

type messageResponse struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	Sender         participantResponse `json:"sender"`
	Content        string              `json:"content"`
	Seq            int64               `json:"seq"`
	SentAt         time.Time           `json:"sentAt"`
	IsRead         bool                `json:"isRead"`
}

func resolveParticipant(ctx context.Context, dir Directory, userID string) participantResponse {
	if dir != nil {
		if u, ok := dir.Lookup(ctx, userID); ok {
			return participantResponse{
				ID:        u.ID,
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Email:     u.Email,
			}
		}
	}
	// Directory miss degrades to an id-only participant.
	return participantResponse{ID: userID}
}

func toConversationResponse(ctx context.Context, dir Directory, c Conversation, viewerID string) conversationResponse {
	return conversationResponse{
		ID:                  c.ID,
		Initiator:           resolveParticipant(ctx, dir, c.InitiatorID),
		Recipient:           resolveParticipant(ctx, dir, c.RecipientID),
		Status:              string(c.Status),
		IntroductoryMessage: c.IntroMessage,
		CreatedAt:           c.CreatedAt,
		LastMessageAt:       c.LastMessageAt,
		LastMessage:         c.LastMessage,
		UnreadMessageCount:  c.UnreadFor(viewerID),
	}
}

func toMessageResponse(ctx context.Context, dir Directory, m Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         resolveParticipant(ctx, dir, m.SenderID),
		Content:        m.Content,
		Seq:            m.Seq,
		SentAt:         m.SentAt,
		IsRead:         m.IsRead,
	}
}

func toConversationResponses(ctx context.Context, dir Directory, convs []Conversation, viewerID string) []conversationResponse {
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(ctx, dir, c, viewerID))
	}
	return out
}
