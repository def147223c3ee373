package services

import (
	"context"
	"encoding/json"

	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/repository"

	"github.com/google/uuid"
)

// createOutboxEvent records a conversation change in the caller's transaction.
// The outbox processor publishes it once the transaction commits.
func createOutboxEvent(ctx context.Context, repo repository.OutboxRepository, eventType string, conversationID uuid.UUID, payload interface{}) error {
	if repo == nil {
		return nil
	}
	data := []byte("{}")
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			data = raw
		}
	}
	return repo.Create(ctx, &outbox.OutboxEvent{
		AggregateType: outbox.AggregateConversation,
		AggregateID:   conversationID.String(),
		EventType:     eventType,
		Payload:       data,
	})
}
