package notification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Kind string

const (
	KindNewMessage      Kind = "new_message"
	KindNewConversation Kind = "new_conversation"
	KindUrgentMessage   Kind = "urgent_message"

	// Operator notices raised by the delivery engine.
	KindMessageQueued  Kind = "message_queued"
	KindFallbackUsed   Kind = "fallback_used"
	KindRateLimited    Kind = "rate_limited"
	KindOfflineDrained Kind = "offline_drained"
	KindDeliveryFailed Kind = "delivery_failed"
)

// IsNotice reports whether the kind is an operator notice rather than a
// conversation activity alert.
func (k Kind) IsNotice() bool {
	switch k {
	case KindMessageQueued, KindFallbackUsed, KindRateLimited, KindOfflineDrained, KindDeliveryFailed:
		return true
	}
	return false
}

type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var (
	ActionOpenConversation = Action{ID: "open_conversation", Label: "Open conversation"}
	ActionMarkRead         = Action{ID: "mark_read", Label: "Mark as read"}
)

// Notification is an in-app notification record addressed to one admin.
type Notification struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"recipientId"`
	Kind           Kind              `gorm:"type:varchar(32);not null" json:"kind"`
	Title          string            `gorm:"type:varchar(255);not null" json:"title"`
	Body           string            `gorm:"type:text" json:"body"`
	Data           map[string]string `gorm:"type:jsonb;serializer:json" json:"data,omitempty"`
	Actions        []Action          `gorm:"type:jsonb;serializer:json" json:"actions,omitempty"`
	RequiresAck    bool              `gorm:"not null;default:false" json:"requiresAck"`
	ReadAt         *time.Time        `json:"readAt,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledgedAt,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
