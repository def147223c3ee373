package services

import (
	"context"
	"strings"
	"time"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/events"
	"bookdesk/internal/proxy"
	"bookdesk/internal/repository"
	bookdesk_errors "bookdesk/pkg/errors"
	"bookdesk/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SearchWindow bounds how many recent messages a search scans.
const SearchWindow = 500

type MessageService struct {
	db               *gorm.DB
	messageRepo      repository.MessageRepository
	conversationRepo repository.ConversationRepository
	outboxRepo       repository.OutboxRepository
	access           *proxy.AccessControl
	feed             events.Subscriber
	log              *logger.Logger
}

func NewMessageService(db *gorm.DB, messageRepo repository.MessageRepository, conversationRepo repository.ConversationRepository, outboxRepo repository.OutboxRepository, access *proxy.AccessControl, feed events.Subscriber, log *logger.Logger) *MessageService {
	return &MessageService{
		db:               db,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		outboxRepo:       outboxRepo,
		access:           access,
		feed:             feed,
		log:              logger.OrNop(log).Named("messages"),
	}
}

type SendMessageInput struct {
	// MessageID makes the send idempotent: a second send with the same id
	// returns the stored message.
	MessageID   *uuid.UUID
	Content     string
	Type        message.Type
	Attachments []message.Attachment
	Channels    []message.Channel
	Priority    message.Priority
}

func (in *SendMessageInput) normalize() error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Type == "" {
		in.Type = message.TypeText
	}
	if !in.Type.Valid() {
		return bookdesk_errors.Validation("unknown message type %q", in.Type)
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return bookdesk_errors.Validation("message content is required")
	}
	for _, a := range in.Attachments {
		if a.URL == "" || (a.Type != "image" && a.Type != "file") {
			return bookdesk_errors.Validation("invalid attachment")
		}
	}
	for _, ch := range in.Channels {
		if !ch.Valid() {
			return bookdesk_errors.Validation("unknown channel %q", ch)
		}
	}
	switch in.Priority {
	case "":
		in.Priority = message.PriorityNormal
	case message.PriorityNormal, message.PriorityHigh:
	default:
		return bookdesk_errors.Validation("unknown priority %q", in.Priority)
	}
	return nil
}

type messageEvent struct {
	MessageID      uuid.UUID        `json:"messageId"`
	ConversationID uuid.UUID        `json:"conversationId"`
	SenderID       uuid.UUID        `json:"senderId,omitempty"`
	SenderRole     string           `json:"senderRole,omitempty"`
	Priority       message.Priority `json:"priority,omitempty"`
}

// SendMessage stores a message and updates the conversation's last message
// and unread counters in the same transaction.
func (s *MessageService) SendMessage(ctx context.Context, conversationID uuid.UUID, in SendMessageInput) (*message.Message, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var msg *message.Message
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.access.WithTx(tx).CanSendMessage(ctx, caller.UserID, conversationID); err != nil {
			return err
		}
		messages := s.messageRepo.WithTx(tx)

		if in.MessageID != nil && *in.MessageID != uuid.Nil {
			existing, err := messages.GetByID(ctx, *in.MessageID)
			switch {
			case err == nil && existing.ConversationID == conversationID:
				msg = existing
				return nil
			case err == nil:
				return bookdesk_errors.Validation("message id %s belongs to another conversation", *in.MessageID)
			case bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeNotFound:
				return err
			}
		}

		now := time.Now().UTC()
		m := &message.Message{
			ConversationID: conversationID,
			SenderID:       caller.UserID,
			SenderRole:     caller.Role,
			Content:        in.Content,
			Type:           in.Type,
			Attachments:    in.Attachments,
			Status:         message.StatusSent,
			Channels:       map[message.Channel]bool{message.ChannelInApp: true},
			DeliveryStatus: map[message.Channel]message.DeliveryState{message.ChannelInApp: message.DeliveryDelivered},
			Priority:       in.Priority,
			CreatedAt:      now,
		}
		if in.MessageID != nil {
			m.ID = *in.MessageID
		}
		for _, ch := range in.Channels {
			if ch == message.ChannelInApp {
				continue
			}
			m.Channels[ch] = true
			m.DeliveryStatus[ch] = message.DeliveryPending
		}
		if err := messages.Create(ctx, m); err != nil {
			return err
		}

		conversations := s.conversationRepo.WithTx(tx)
		if err := conversations.UpdateLastMessage(ctx, conversationID, lastMessageOf(m), now); err != nil {
			return err
		}
		if err := conversations.IncrementUnread(ctx, conversationID, caller.UserID); err != nil {
			return err
		}
		msg = m
		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventMessageCreated, conversationID, messageEvent{
			MessageID:      m.ID,
			ConversationID: conversationID,
			SenderID:       m.SenderID,
			SenderRole:     string(m.SenderRole),
			Priority:       m.Priority,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Ctx(ctx).Info("message sent",
		zap.String("conversation_id", conversationID.String()),
		zap.String("message_id", msg.ID.String()),
	)
	return msg, nil
}

func (s *MessageService) GetMessages(ctx context.Context, conversationID uuid.UUID, q repository.MessageQuery) ([]message.Message, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.CanViewConversation(ctx, caller.UserID, conversationID); err != nil {
		return nil, err
	}
	return s.messageRepo.List(ctx, conversationID, q)
}

// MarkMessagesAsRead records read receipts for the caller. With no ids every
// unread message in the conversation is marked. Already read messages are
// skipped, so repeating the call is a no-op.
func (s *MessageService) MarkMessagesAsRead(ctx context.Context, conversationID uuid.UUID, messageIDs []uuid.UUID) error {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.access.WithTx(tx).CanViewConversation(ctx, caller.UserID, conversationID)
		if err != nil {
			return err
		}
		messages := s.messageRepo.WithTx(tx)

		ids, err := messages.UnreadIDs(ctx, conversationID, caller.UserID, messageIDs)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		receipts := make([]message.Receipt, 0, len(ids))
		for _, id := range ids {
			receipts = append(receipts, message.Receipt{MessageID: id, UserID: caller.UserID, ReadAt: now})
		}
		if err := messages.AddReceipts(ctx, receipts); err != nil {
			return err
		}
		if err := messages.UpdateStatus(ctx, ids, message.StatusRead); err != nil {
			return err
		}

		remaining, err := messages.CountUnread(ctx, conversationID, caller.UserID)
		if err != nil {
			return err
		}
		before := conv.UnreadFor(caller.UserID)
		if len(ids) == 0 && before == remaining {
			return nil
		}
		if err := s.conversationRepo.WithTx(tx).SetUnread(ctx, conversationID, caller.UserID, remaining); err != nil {
			return err
		}
		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventConversationRead, conversationID, map[string]interface{}{
			"conversationId": conversationID,
			"userId":         caller.UserID,
			"messageIds":     ids,
		})
	})
}

// DeleteMessage removes a message. Only its sender or a privileged role may
// delete it. Unread counters and the last message preview are rebuilt.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID uuid.UUID, hard bool) error {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messages := s.messageRepo.WithTx(tx)
		conversations := s.conversationRepo.WithTx(tx)

		msg, err := messages.GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.IsDeleted && !hard {
			return nil
		}
		if err := s.access.CanDeleteMessage(caller.UserID, caller.Role, msg.SenderID); err != nil {
			return err
		}
		conv, err := conversations.GetByID(ctx, msg.ConversationID)
		if err != nil {
			return err
		}
		if !caller.Role.Privileged() {
			if err := proxy.EnsureParticipant(conv, caller.UserID); err != nil {
				return err
			}
		}

		if hard {
			err = messages.HardDelete(ctx, messageID)
		} else {
			err = messages.SoftDelete(ctx, messageID)
		}
		if err != nil {
			return err
		}

		for _, participantID := range conv.ParticipantIDs() {
			n, err := messages.CountUnread(ctx, conv.ID, participantID)
			if err != nil {
				return err
			}
			if err := conversations.SetUnread(ctx, conv.ID, participantID, n); err != nil {
				return err
			}
		}

		last := conversation.LastMessage{}
		latest, err := messages.Latest(ctx, conv.ID)
		switch {
		case err == nil:
			last = lastMessageOf(latest)
		case bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeNotFound:
			return err
		}
		if err := conversations.UpdateLastMessage(ctx, conv.ID, last, time.Now().UTC()); err != nil {
			return err
		}

		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventMessageDeleted, conv.ID, messageEvent{
			MessageID:      messageID,
			ConversationID: conv.ID,
		})
	})
}

// SearchMessages matches query case-insensitively against the most recent
// SearchWindow messages of the caller's conversations, or of one conversation.
func (s *MessageService) SearchMessages(ctx context.Context, query string, conversationID *uuid.UUID) ([]message.Message, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []message.Message{}, nil
	}

	var scope []uuid.UUID
	if conversationID != nil {
		if _, err := s.access.CanViewConversation(ctx, caller.UserID, *conversationID); err != nil {
			return nil, err
		}
		scope = []uuid.UUID{*conversationID}
	} else {
		scope, err = s.conversationRepo.IDsForUser(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
	}

	recent, err := s.messageRepo.ListRecent(ctx, scope, SearchWindow)
	if err != nil {
		return nil, err
	}
	matches := make([]message.Message, 0)
	for _, m := range recent {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// UpdateDeliveryStatus records the outcome of one channel for a message and
// advances the message status where the state machine allows it.
func (s *MessageService) UpdateDeliveryStatus(ctx context.Context, messageID uuid.UUID, channel message.Channel, state message.DeliveryState) error {
	if !channel.Valid() {
		return bookdesk_errors.Validation("unknown channel %q", channel)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messages := s.messageRepo.WithTx(tx)
		msg, err := messages.GetByID(ctx, messageID)
		if err != nil {
			return err
		}

		delivery := make(map[message.Channel]message.DeliveryState, len(msg.DeliveryStatus)+1)
		for ch, st := range msg.DeliveryStatus {
			delivery[ch] = st
		}
		delivery[channel] = state

		status := msg.Status
		if next := aggregateStatus(delivery); next != "" && status.CanTransition(next) {
			status = next
		}
		if err := messages.UpdateDelivery(ctx, messageID, delivery, status); err != nil {
			return err
		}
		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventMessageUpdated, msg.ConversationID, messageEvent{
			MessageID:      messageID,
			ConversationID: msg.ConversationID,
		})
	})
}

// ListenToMessages streams the conversation's messages, oldest first, once
// now and again after every change in the conversation.
func (s *MessageService) ListenToMessages(ctx context.Context, conversationID uuid.UUID, q repository.MessageQuery, cb func([]message.Message, error)) (Unsubscribe, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.CanViewConversation(ctx, caller.UserID, conversationID); err != nil {
		return nil, err
	}
	return listen(ctx, s.feed, s.log, []string{events.ConversationChannel(conversationID.String())},
		func(ctx context.Context) ([]message.Message, error) {
			return s.GetMessages(ctx, conversationID, q)
		},
		func(items []message.Message, err error) {
			logListenError(s.log, "messages", err)
			cb(items, err)
		},
	)
}

// aggregateStatus is delivered once any external channel delivered and
// failed once every external channel failed. In-app storage does not count.
func aggregateStatus(delivery map[message.Channel]message.DeliveryState) message.Status {
	failed, external := 0, 0
	for ch, st := range delivery {
		if ch == message.ChannelInApp {
			continue
		}
		external++
		switch st {
		case message.DeliveryDelivered:
			return message.StatusDelivered
		case message.DeliveryFailed:
			failed++
		}
	}
	if external > 0 && failed == external {
		return message.StatusFailed
	}
	return ""
}

func lastMessageOf(m *message.Message) conversation.LastMessage {
	content := m.Content
	if content == "" && len(m.Attachments) > 0 {
		content = m.Attachments[0].Name
		if content == "" {
			content = "[" + m.Attachments[0].Type + "]"
		}
	}
	ts := m.CreatedAt
	return conversation.LastMessage{
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Content:    conversation.Preview(content),
		Type:       string(m.Type),
		Urgent:     m.IsUrgent(),
		Timestamp:  &ts,
	}
}
