package repository

import (
	"context"
	"time"

	"bookdesk/internal/domain/outbox"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) WithTx(tx *gorm.DB) OutboxRepository {
	return &outboxRepository{db: tx}
}

func (r *outboxRepository) Create(ctx context.Context, event *outbox.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *outboxRepository) GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(clampLimit(limit, 100, 1000)).
		Find(&events).Error
	return events, err
}

func (r *outboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       outbox.StatusCompleted,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     outbox.StatusFailed,
			"error":      errorMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *outboxRepository) IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + ?", 1),
			"error":       errorMsg,
			"updated_at":  time.Now().UTC(),
		}).Error
}
