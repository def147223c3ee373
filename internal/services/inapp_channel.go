package services

import (
	"context"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/user"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/google/uuid"
)

// InAppChannel is the primary delivery channel: it writes the message into
// the conversation store. The envelope's MessageID keeps retries idempotent.
type InAppChannel struct {
	messages *MessageService
}

func NewInAppChannel(messages *MessageService) *InAppChannel {
	return &InAppChannel{messages: messages}
}

func (c *InAppChannel) Name() channels.Name { return channels.InApp }

func (c *InAppChannel) Available(channels.Recipient) bool { return true }

func (c *InAppChannel) Send(ctx context.Context, env channels.Envelope) error {
	ctx = WithCaller(ctx, env.SenderID, user.Role(env.SenderRole))
	id := env.MessageID
	_, err := c.messages.SendMessage(ctx, env.ConversationID, SendMessageInput{
		MessageID:   &id,
		Content:     env.Body,
		Type:        env.Type,
		Attachments: env.Attachments,
		Priority:    env.Priority,
	})
	return err
}

// RecordDelivery stores a channel outcome on the message. Messages that never
// reached the store are ignored.
func (c *InAppChannel) RecordDelivery(ctx context.Context, messageID uuid.UUID, channel channels.Name, delivered bool) error {
	state := message.DeliveryFailed
	if delivered {
		state = message.DeliveryDelivered
	}
	err := c.messages.UpdateDeliveryStatus(ctx, messageID, message.Channel(channel), state)
	if bookdesk_errors.CodeOf(err) == bookdesk_errors.CodeNotFound {
		return nil
	}
	return err
}
