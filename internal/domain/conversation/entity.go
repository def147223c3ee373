package conversation

import (
	"time"
	"unicode/utf8"

	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Type string

const (
	TypeCustomerSupport Type = "customer_support"
	TypeOrderInquiry    Type = "order_inquiry"
	TypeGeneral         Type = "general"
	TypeSystem          Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCustomerSupport, TypeOrderInquiry, TypeGeneral, TypeSystem:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// PreviewLength caps the lastMessage content preview, in runes.
const PreviewLength = 100

type CustomerInfo struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Telegram string `json:"telegram,omitempty"`
}

type OrderInfo struct {
	OrderID string `json:"orderId,omitempty"`
}

type Metadata struct {
	CustomerInfo *CustomerInfo `json:"customerInfo,omitempty"`
	OrderInfo    *OrderInfo    `json:"orderInfo,omitempty"`
	Priority     Priority      `json:"priority,omitempty"`
	IsUrgent     bool          `json:"isUrgent,omitempty"`
}

// LastMessage is the denormalized cache of the most recent message.
type LastMessage struct {
	SenderID   uuid.UUID  `gorm:"type:uuid" json:"senderId"`
	SenderRole user.Role  `gorm:"type:varchar(16)" json:"senderRole"`
	Content    string     `gorm:"type:varchar(512)" json:"content"`
	Type       string     `gorm:"type:varchar(32)" json:"type"`
	Urgent     bool       `json:"urgent"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (l LastMessage) Present() bool {
	return l.Timestamp != nil
}

// Conversation represents the conversations table
type Conversation struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Type         Type          `gorm:"type:varchar(32);not null;index" json:"type"`
	OrderID      string        `gorm:"type:varchar(64);index" json:"orderId,omitempty"`
	LastMessage  LastMessage   `gorm:"embedded;embeddedPrefix:last_message_" json:"lastMessage"`
	Metadata     Metadata      `gorm:"type:jsonb;serializer:json" json:"metadata"`
	IsActive     bool          `gorm:"not null;index" json:"isActive"`
	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `gorm:"index" json:"updatedAt"`
}

// Participant represents the participants table. It holds both the
// participant set and the per-participant unread counter.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"userId"`
	UnreadCount    int       `gorm:"not null;default:0" json:"unreadCount"`
	JoinedAt       time.Time `json:"joinedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "participants"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p.UnreadCount
		}
	}
	return 0
}

// UnreadCounts exposes the participant → unread mapping.
func (c *Conversation) UnreadCounts() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(c.Participants))
	for _, p := range c.Participants {
		out[p.UserID] = p.UnreadCount
	}
	return out
}

// IsUrgent is true when the conversation is flagged urgent or high priority,
// or when its latest message was sent as urgent.
func (c *Conversation) IsUrgent() bool {
	return c.Metadata.IsUrgent || c.Metadata.Priority == PriorityHigh || c.LastMessage.Urgent
}

func (c *Conversation) CustomerName() string {
	if c.Metadata.CustomerInfo == nil {
		return ""
	}
	return c.Metadata.CustomerInfo.Name
}

func (c *Conversation) CustomerEmail() string {
	if c.Metadata.CustomerInfo == nil {
		return ""
	}
	return c.Metadata.CustomerInfo.Email
}

// Preview truncates content to PreviewLength runes.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength])
}
