package outbox

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status represents the processing state of an outbox event
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

const AggregateConversation = "conversation"

const (
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventConversationRead    = "conversation.read"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventMessageDeleted      = "message.deleted"
)

// OutboxEvent is a change written in the same transaction as the change
// itself and later published to the live change feed.
type OutboxEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType     string    `gorm:"type:varchar(50);not null"`
	AggregateType string    `gorm:"type:varchar(50);not null"`
	AggregateID   string    `gorm:"type:varchar(36);not null"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	Status        Status    `gorm:"type:varchar(20);not null;index"`
	RetryCount    int       `gorm:"not null;default:0"`
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
	ProcessedAt   *time.Time
}

// TableName returns the database table name
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	return nil
}
