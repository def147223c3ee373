package services

import (
	"context"
	"strings"
	"time"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/events"
	"bookdesk/internal/proxy"
	"bookdesk/internal/repository"
	bookdesk_errors "bookdesk/pkg/errors"
	"bookdesk/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConversationService struct {
	db               *gorm.DB
	conversationRepo repository.ConversationRepository
	outboxRepo       repository.OutboxRepository
	users            *UserService
	access           *proxy.AccessControl
	feed             events.Subscriber
	log              *logger.Logger
}

func NewConversationService(db *gorm.DB, conversationRepo repository.ConversationRepository, outboxRepo repository.OutboxRepository, users *UserService, access *proxy.AccessControl, feed events.Subscriber, log *logger.Logger) *ConversationService {
	return &ConversationService{
		db:               db,
		conversationRepo: conversationRepo,
		outboxRepo:       outboxRepo,
		users:            users,
		access:           access,
		feed:             feed,
		log:              logger.OrNop(log).Named("conversations"),
	}
}

type conversationEvent struct {
	ConversationID uuid.UUID         `json:"conversationId"`
	Type           conversation.Type `json:"type"`
	Participants   []uuid.UUID       `json:"participants"`
	IsActive       bool              `json:"isActive"`
}

// CreateConversation opens a conversation between participantIDs. The
// creator does not have to be one of them.
func (s *ConversationService) CreateConversation(ctx context.Context, participantIDs []uuid.UUID, convType conversation.Type, metadata conversation.Metadata) (*conversation.Conversation, error) {
	if _, err := CallerFromContext(ctx); err != nil {
		return nil, err
	}
	return s.create(ctx, participantIDs, convType, metadata)
}

func (s *ConversationService) create(ctx context.Context, participantIDs []uuid.UUID, convType conversation.Type, metadata conversation.Metadata) (*conversation.Conversation, error) {
	ids := dedupeIDs(participantIDs)
	if len(ids) == 0 {
		return nil, bookdesk_errors.Validation("at least one participant is required")
	}
	if !convType.Valid() {
		return nil, bookdesk_errors.Validation("unknown conversation type %q", convType)
	}
	if metadata.Priority == "" {
		metadata.Priority = conversation.PriorityNormal
	}

	now := time.Now().UTC()
	conv := &conversation.Conversation{
		Type:      convType,
		Metadata:  metadata,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if metadata.OrderInfo != nil {
		conv.OrderID = strings.TrimSpace(metadata.OrderInfo.OrderID)
	}
	for _, id := range ids {
		conv.Participants = append(conv.Participants, conversation.Participant{UserID: id, JoinedAt: now})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.conversationRepo.WithTx(tx).Create(ctx, conv); err != nil {
			return err
		}
		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventConversationCreated, conv.ID, conversationEvent{
			ConversationID: conv.ID,
			Type:           conv.Type,
			Participants:   ids,
			IsActive:       true,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("conversation created",
		zap.String("conversation_id", conv.ID.String()),
		zap.String("type", string(conv.Type)),
		zap.Int("participants", len(ids)),
	)
	return conv, nil
}

func (s *ConversationService) GetConversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.access.CanViewConversation(ctx, caller.UserID, id)
}

// GetConversations lists the caller's conversations, most recently updated first.
func (s *ConversationService) GetConversations(ctx context.Context, filter repository.ConversationFilter) ([]conversation.Conversation, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, bookdesk_errors.Validation("unknown conversation type %q", filter.Type)
	}
	return s.conversationRepo.ListForUser(ctx, caller.UserID, filter)
}

// ArchiveConversation deactivates a conversation. Archived conversations
// accept no new messages.
func (s *ConversationService) ArchiveConversation(ctx context.Context, id uuid.UUID) error {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.access.WithTx(tx).CanViewConversation(ctx, caller.UserID, id)
		if err != nil {
			return err
		}
		if !conv.IsActive {
			return nil
		}
		if err := s.conversationRepo.WithTx(tx).SetActive(ctx, id, false); err != nil {
			return err
		}
		return createOutboxEvent(ctx, s.outboxRepo.WithTx(tx), outbox.EventConversationUpdated, id, conversationEvent{
			ConversationID: id,
			Type:           conv.Type,
			Participants:   conv.ParticipantIDs(),
			IsActive:       false,
		})
	})
}

// FindOrCreateSupportConversation returns the customer's active support
// conversation, opening one with every admin when none exists.
func (s *ConversationService) FindOrCreateSupportConversation(ctx context.Context, customer *user.User) (*conversation.Conversation, error) {
	conv, err := s.conversationRepo.FindActiveWithParticipant(ctx, customer.ID, conversation.TypeCustomerSupport)
	if err == nil {
		return conv, nil
	}
	if bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeNotFound {
		return nil, err
	}

	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	ids := []uuid.UUID{customer.ID}
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	return s.create(ctx, ids, conversation.TypeCustomerSupport, conversation.Metadata{
		CustomerInfo: &conversation.CustomerInfo{
			Name:     customer.DisplayName,
			Email:    customer.Email,
			Phone:    customer.Phone,
			Telegram: customer.TelegramChatID,
		},
	})
}

// ListenToConversations streams the caller's conversation list, once now
// and again after every conversation change.
func (s *ConversationService) ListenToConversations(ctx context.Context, filter repository.ConversationFilter, cb func([]conversation.Conversation, error)) (Unsubscribe, error) {
	if _, err := CallerFromContext(ctx); err != nil {
		return nil, err
	}
	return listen(ctx, s.feed, s.log, []string{events.AllConversations},
		func(ctx context.Context) ([]conversation.Conversation, error) {
			return s.GetConversations(ctx, filter)
		},
		func(items []conversation.Conversation, err error) {
			logListenError(s.log, "conversations", err)
			cb(items, err)
		},
	)
}

// Recipients resolves delivery addresses for every participant except the sender.
func (s *ConversationService) Recipients(ctx context.Context, conv *conversation.Conversation, exceptID uuid.UUID) ([]user.User, error) {
	out := make([]user.User, 0, len(conv.Participants))
	for _, id := range conv.ParticipantIDs() {
		if id == exceptID {
			continue
		}
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			if bookdesk_errors.CodeOf(err) == bookdesk_errors.CodeNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
