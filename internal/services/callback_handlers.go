package services

import (
	"context"
	"fmt"

	"bookdesk/internal/commands"
	"bookdesk/internal/domain/user"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/google/uuid"
)

// Muter silences notifications of one conversation for one admin.
type Muter interface {
	Mute(ctx context.Context, adminID, conversationID uuid.UUID) error
}

// RegisterCallbackHandlers binds the Telegram inline keyboard actions to the
// conversation store.
func RegisterCallbackHandlers(bus *commands.Bus, messages *MessageService, mutes Muter) {
	bus.Register(commands.TypeMarkRead, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		c, ok := cmd.(commands.ConversationCommand)
		if !ok {
			return commands.Result{}, commands.ErrInvalidCommand
		}
		ctx = WithCaller(ctx, c.Actor, user.RoleAdmin)
		if err := messages.MarkMessagesAsRead(ctx, c.ConversationID, nil); err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: c.ConversationID.String(), Message: "Marked as read"}, nil
	}))

	bus.Register(commands.TypeMute, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		c, ok := cmd.(commands.ConversationCommand)
		if !ok {
			return commands.Result{}, commands.ErrInvalidCommand
		}
		if mutes == nil {
			return commands.Result{}, bookdesk_errors.New(bookdesk_errors.CodeServiceUnavailable, "muting is not available")
		}
		if _, err := messages.access.CanViewConversation(ctx, c.Actor, c.ConversationID); err != nil {
			return commands.Result{}, err
		}
		if err := mutes.Mute(ctx, c.Actor, c.ConversationID); err != nil {
			return commands.Result{}, fmt.Errorf("mute conversation: %w", err)
		}
		return commands.Result{AggregateID: c.ConversationID.String(), Message: "Conversation muted"}, nil
	}))
}
