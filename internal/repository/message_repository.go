package repository

import (
	"context"

	"bookdesk/internal/domain/message"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const unreadCondition = "NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = messages.id AND r.user_id = ?)"

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) WithTx(tx *gorm.DB) MessageRepository {
	return &messageRepository{db: tx}
}

func (r *messageRepository) Create(ctx context.Context, m *message.Message) error {
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error, "message")
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Preload("ReadBy").First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "message")
	}
	return &m, nil
}

func (r *messageRepository) List(ctx context.Context, conversationID uuid.UUID, q MessageQuery) ([]message.Message, error) {
	order := "created_at DESC"
	if q.Ascending {
		order = "created_at ASC"
	}
	var items []message.Message
	err := r.db.WithContext(ctx).
		Preload("ReadBy").
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order(order).
		Limit(clampLimit(q.Limit, 100, 1000)).
		Find(&items).Error
	return items, err
}

func (r *messageRepository) ListRecent(ctx context.Context, conversationIDs []uuid.UUID, limit int) ([]message.Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	var items []message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id IN ? AND is_deleted = ?", conversationIDs, false).
		Order("created_at DESC").
		Limit(clampLimit(limit, 500, 5000)).
		Find(&items).Error
	return items, err
}

func (r *messageRepository) Latest(ctx context.Context, conversationID uuid.UUID) (*message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, translateError(err, "message")
	}
	return &m, nil
}

func (r *messageRepository) UnreadIDs(ctx context.Context, conversationID, userID uuid.UUID, restrict []uuid.UUID) ([]uuid.UUID, error) {
	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", conversationID, userID, false).
		Where(unreadCondition, userID)
	if len(restrict) > 0 {
		q = q.Where("id IN ?", restrict)
	}
	var ids []uuid.UUID
	err := q.Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", conversationID, userID, false).
		Where(unreadCondition, userID).
		Count(&n).Error
	return int(n), err
}

// AddReceipts inserts read receipts, leaving existing ones untouched.
func (r *messageRepository) AddReceipts(ctx context.Context, receipts []message.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipts).Error
}

// UpdateStatus moves messages to the given status where the transition is allowed.
func (r *messageRepository) UpdateStatus(ctx context.Context, ids []uuid.UUID, to message.Status) error {
	if len(ids) == 0 {
		return nil
	}
	from := message.Precursors(to)
	if len(from) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id IN ? AND status IN ?", ids, from).
		UpdateColumn("status", to).Error
}

func (r *messageRepository) UpdateDelivery(ctx context.Context, id uuid.UUID, delivery map[message.Channel]message.DeliveryState, status message.Status) error {
	m := message.Message{ID: id, DeliveryStatus: delivery, Status: status}
	res := r.db.WithContext(ctx).
		Model(&m).
		Select("delivery_status", "status").
		Updates(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "message")
	}
	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ?", id).
		UpdateColumn("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "message")
	}
	return nil
}

func (r *messageRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("message_id = ?", id).Delete(&message.Receipt{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&message.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "message")
	}
	return nil
}
