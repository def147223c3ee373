// Package channels holds the outbound delivery adapters: Telegram, email and
// SMS over HTTP. The in-app adapter lives with the conversation services.
package channels

import (
	"context"
	"errors"

	"bookdesk/internal/domain/message"

	"github.com/google/uuid"
)

type Name string

const (
	Telegram Name = "telegram"
	Email    Name = "email"
	SMS      Name = "sms"
	InApp    Name = "inApp"
)

// FallbackOrder is the fixed fallback priority.
var FallbackOrder = []Name{Telegram, Email, SMS}

func (n Name) Valid() bool {
	switch n {
	case Telegram, Email, SMS, InApp:
		return true
	}
	return false
}

// Recipient carries the contact points a channel may use.
type Recipient struct {
	UserID         uuid.UUID `json:"userId"`
	Name           string    `json:"name,omitempty"`
	TelegramChatID string    `json:"telegramChatId,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
}

// Envelope is one outbound send, already rendered for the target channel.
type Envelope struct {
	MessageID      uuid.UUID            `json:"messageId"`
	IdempotencyKey string               `json:"idempotencyKey"`
	ConversationID uuid.UUID            `json:"conversationId"`
	SenderID       uuid.UUID            `json:"senderId"`
	SenderRole     string               `json:"senderRole"`
	Recipient      Recipient            `json:"recipient"`
	Subject        string               `json:"subject,omitempty"`
	Body           string               `json:"body"`
	ParseMode      string               `json:"parseMode,omitempty"`
	Keyboard       *InlineKeyboard      `json:"keyboard,omitempty"`
	Type           message.Type         `json:"type"`
	Attachments    []message.Attachment `json:"attachments,omitempty"`
	Priority       message.Priority     `json:"priority,omitempty"`
}

// Sender is one delivery channel.
type Sender interface {
	Name() Name
	// Available reports whether the channel is configured and can reach r.
	Available(r Recipient) bool
	Send(ctx context.Context, env Envelope) error
}

// CredentialRefresher is implemented by channels able to renew their
// credentials after an authentication failure.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}

// TokenSource returns a fresh API key for a provider.
type TokenSource func(ctx context.Context) (string, error)

var ErrNoCredentialSource = errors.New("no credential source configured")
