package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the sender role attached to messages and to the authenticated caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCustomer, RoleSystem:
		return true
	}
	return false
}

// Privileged roles may delete any message.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSystem
}

// User represents the users table: admins of the bookstore panel and the
// customers they talk to.
type User struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName     string    `gorm:"type:varchar(120);not null"`
	Role            Role      `gorm:"type:varchar(16);not null;index"`
	Email           string    `gorm:"type:varchar(255);index"`
	Phone           string    `gorm:"type:varchar(32)"`
	TelegramChatID  string    `gorm:"type:varchar(64);index"`
	TelegramEnabled bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// TelegramUserID derives a stable user id for a Telegram chat so that repeat
// contacts from the same chat land on the same user row.
func TelegramUserID(chatID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("telegram:"+chatID))
}
