package repository

import (
	"context"
	"time"

	"bookdesk/internal/domain/conversation"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) WithTx(tx *gorm.DB) ConversationRepository {
	return &conversationRepository{db: tx}
}

func (r *conversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(c).Error; err != nil {
		return translateError(err, "conversation")
	}
	for i := range c.Participants {
		c.Participants[i].ConversationID = c.ID
	}
	if len(c.Participants) == 0 {
		return nil
	}
	return translateError(db.Create(&c.Participants).Error, "participant")
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "conversation")
	}
	return &c, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, filter ConversationFilter) ([]conversation.Conversation, error) {
	active := true
	if filter.IsActive != nil {
		active = *filter.IsActive
	}

	q := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN (?)", r.db.Model(&conversation.Participant{}).Select("conversation_id").Where("user_id = ?", userID)).
		Where("is_active = ?", active)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}

	var items []conversation.Conversation
	err := q.Order("updated_at DESC").
		Limit(clampLimit(filter.Limit, 50, 500)).
		Find(&items).Error
	return items, err
}

func (r *conversationRepository) IDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (r *conversationRepository) FindActiveWithParticipant(ctx context.Context, userID uuid.UUID, convType conversation.Type) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN (?)", r.db.Model(&conversation.Participant{}).Select("conversation_id").Where("user_id = ?", userID)).
		Where("is_active = ? AND type = ?", true, convType).
		Order("updated_at DESC").
		First(&c).Error
	if err != nil {
		return nil, translateError(err, "conversation")
	}
	return &c, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, last conversation.LastMessage, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_sender_id":   last.SenderID,
			"last_message_sender_role": last.SenderRole,
			"last_message_content":     last.Content,
			"last_message_type":        last.Type,
			"last_message_urgent":      last.Urgent,
			"last_message_timestamp":   last.Timestamp,
			"updated_at":               at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "conversation")
	}
	return nil
}

func (r *conversationRepository) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id <> ?", conversationID, exceptUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
}

func (r *conversationRepository) SetUnread(ctx context.Context, conversationID, userID uuid.UUID, count int) error {
	if count < 0 {
		count = 0
	}
	return r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		UpdateColumn("unread_count", count).Error
}

func (r *conversationRepository) SetActive(ctx context.Context, conversationID uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "conversation")
	}
	return nil
}
