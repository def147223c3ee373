package message

import (
	"time"

	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Type string

const (
	TypeText        Type = "text"
	TypeImage       Type = "image"
	TypeFile        Type = "file"
	TypeSystem      Type = "system"
	TypeOrderUpdate Type = "order_update"
	TypeStockAlert  Type = "stock_alert"
)

func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeSystem, TypeOrderUpdate, TypeStockAlert:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Channel names a replication target for a message.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	ChannelInApp    Channel = "inApp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelTelegram, ChannelInApp:
		return true
	}
	return false
}

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

type Attachment struct {
	Type string `json:"type"` // image | file
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Message represents the messages table
type Message struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID                 `gorm:"type:uuid;not null;index" json:"conversationId"`
	SenderID       uuid.UUID                 `gorm:"type:uuid;not null" json:"senderId"`
	SenderRole     user.Role                 `gorm:"type:varchar(16);not null" json:"senderRole"`
	Content        string                    `gorm:"type:text" json:"content"`
	Type           Type                      `gorm:"type:varchar(32);not null" json:"type"`
	Attachments    []Attachment              `gorm:"type:jsonb;serializer:json" json:"attachments,omitempty"`
	Status         Status                    `gorm:"type:varchar(16);not null" json:"status"`
	Channels       map[Channel]bool          `gorm:"type:jsonb;serializer:json" json:"channels,omitempty"`
	DeliveryStatus map[Channel]DeliveryState `gorm:"type:jsonb;serializer:json" json:"deliveryStatus,omitempty"`
	Priority       Priority                  `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`
	IsDeleted      bool                      `gorm:"not null;default:false;index" json:"isDeleted"`
	EditedAt       *time.Time                `json:"editedAt,omitempty"`
	CreatedAt      time.Time                 `gorm:"index" json:"createdAt"`
	ReadBy         []Receipt                 `gorm:"foreignKey:MessageID" json:"-"`
}

// Receipt represents message_receipts. A row means the user has seen the message.
type Receipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	ReadAt    time.Time `gorm:"not null"`
}

func (Message) TableName() string {
	return "messages"
}

func (Receipt) TableName() string {
	return "message_receipts"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m *Message) IsUrgent() bool {
	return m.Priority == PriorityHigh
}

// ReadByMap returns participant id → read timestamp.
func (m *Message) ReadByMap() map[uuid.UUID]time.Time {
	out := make(map[uuid.UUID]time.Time, len(m.ReadBy))
	for _, r := range m.ReadBy {
		out[r.UserID] = r.ReadAt
	}
	return out
}
