package repository

import (
	"context"
	"time"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationFilter narrows conversation listings. A nil IsActive means
// active conversations only.
type ConversationFilter struct {
	Type     conversation.Type
	IsActive *bool
	OrderID  string
	Limit    int
}

type MessageQuery struct {
	Ascending bool
	Limit     int
}

type ConversationRepository interface {
	WithTx(tx *gorm.DB) ConversationRepository

	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, filter ConversationFilter) ([]conversation.Conversation, error)
	IDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	FindActiveWithParticipant(ctx context.Context, userID uuid.UUID, convType conversation.Type) (*conversation.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, last conversation.LastMessage, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error
	SetUnread(ctx context.Context, conversationID, userID uuid.UUID, count int) error
	SetActive(ctx context.Context, conversationID uuid.UUID, active bool) error
}

type MessageRepository interface {
	WithTx(tx *gorm.DB) MessageRepository

	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*message.Message, error)
	List(ctx context.Context, conversationID uuid.UUID, q MessageQuery) ([]message.Message, error)
	ListRecent(ctx context.Context, conversationIDs []uuid.UUID, limit int) ([]message.Message, error)
	Latest(ctx context.Context, conversationID uuid.UUID) (*message.Message, error)

	// UnreadIDs lists messages in the conversation not sent by userID and not
	// yet read by userID. A non-empty restrict limits the result to those ids.
	UnreadIDs(ctx context.Context, conversationID, userID uuid.UUID, restrict []uuid.UUID) ([]uuid.UUID, error)
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	AddReceipts(ctx context.Context, receipts []message.Receipt) error
	UpdateStatus(ctx context.Context, ids []uuid.UUID, to message.Status) error
	UpdateDelivery(ctx context.Context, id uuid.UUID, delivery map[message.Channel]message.DeliveryState, status message.Status) error

	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
}

type NotificationRepository interface {
	CreateBatch(ctx context.Context, items []notification.Notification) error
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
	Acknowledge(ctx context.Context, id, recipientID uuid.UUID) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error)
	ListAdmins(ctx context.Context) ([]user.User, error)
	FindByTelegramChatID(ctx context.Context, chatID string) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
}

type OutboxRepository interface {
	WithTx(tx *gorm.DB) OutboxRepository

	Create(ctx context.Context, event *outbox.OutboxEvent) error
	GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error
}
