package services

import (
	"bookdesk/internal/channels"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
)

func channelEnvelope(conversationID uuid.UUID, sender *user.User) channels.Envelope {
	id := uuid.New()
	return channels.Envelope{
		MessageID:      id,
		IdempotencyKey: id.String() + ":inApp",
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderRole:     string(sender.Role),
		Body:           "Your order has shipped",
		Type:           message.TypeOrderUpdate,
		Priority:       message.PriorityNormal,
	}
}
