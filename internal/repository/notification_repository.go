package repository

import (
	"context"
	"time"

	"bookdesk/internal/domain/notification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateBatch(ctx context.Context, items []notification.Notification) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *notificationRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]notification.Notification, error) {
	q := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var items []notification.Notification
	err := q.Order("created_at DESC").Limit(clampLimit(limit, 50, 200)).Find(&items).Error
	return items, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	return r.stamp(ctx, id, recipientID, map[string]interface{}{"read_at": time.Now().UTC()})
}

// Acknowledge also marks the notification read.
func (r *notificationRepository) Acknowledge(ctx context.Context, id, recipientID uuid.UUID) error {
	now := time.Now().UTC()
	return r.stamp(ctx, id, recipientID, map[string]interface{}{"read_at": now, "acknowledged_at": now})
}

func (r *notificationRepository) stamp(ctx context.Context, id, recipientID uuid.UUID, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translateError(gorm.ErrRecordNotFound, "notification")
	}
	return nil
}
