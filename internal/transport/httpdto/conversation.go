package httpdto

import (
	"time"

	"bookdesk/internal/domain/conversation"

	"github.com/google/uuid"
)

type CreateConversationRequest struct {
	Type         string                `json:"type" binding:"required"`
	Participants []string              `json:"participants"`
	Metadata     conversation.Metadata `json:"metadata"`
}

type ConversationResponse struct {
	ID           uuid.UUID                 `json:"id"`
	Type         conversation.Type         `json:"type"`
	OrderID      string                    `json:"orderId,omitempty"`
	Participants []uuid.UUID               `json:"participants"`
	UnreadCount  map[uuid.UUID]int         `json:"unreadCount"`
	Unread       int                       `json:"unread"`
	LastMessage  *conversation.LastMessage `json:"lastMessage,omitempty"`
	Metadata     conversation.Metadata     `json:"metadata"`
	IsActive     bool                      `json:"isActive"`
	Urgent       bool                      `json:"urgent"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

// FromConversation renders conv for viewer; Unread is the viewer's counter.
func FromConversation(conv *conversation.Conversation, viewer uuid.UUID) ConversationResponse {
	resp := ConversationResponse{
		ID:           conv.ID,
		Type:         conv.Type,
		OrderID:      conv.OrderID,
		Participants: conv.ParticipantIDs(),
		UnreadCount:  conv.UnreadCounts(),
		Unread:       conv.UnreadFor(viewer),
		Metadata:     conv.Metadata,
		IsActive:     conv.IsActive,
		Urgent:       conv.IsUrgent(),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	if conv.LastMessage.Present() {
		last := conv.LastMessage
		resp.LastMessage = &last
	}
	return resp
}

func FromConversations(items []conversation.Conversation, viewer uuid.UUID) []ConversationResponse {
	out := make([]ConversationResponse, 0, len(items))
	for i := range items {
		out = append(out, FromConversation(&items[i], viewer))
	}
	return out
}
