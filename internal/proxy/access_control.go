package proxy

import (
	"context"

	"bookdesk/internal/commands"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/repository"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessControl answers "may this user touch this conversation" questions.
type AccessControl struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
}

func NewAccessControl(conversationRepo repository.ConversationRepository, userRepo repository.UserRepository) *AccessControl {
	return &AccessControl{conversationRepo: conversationRepo, userRepo: userRepo}
}

// WithTx scopes participant lookups to a transaction.
func (a *AccessControl) WithTx(tx *gorm.DB) *AccessControl {
	return &AccessControl{conversationRepo: a.conversationRepo.WithTx(tx), userRepo: a.userRepo}
}

// CanViewConversation loads the conversation and requires userID among its
// participants. Missing conversations are NotFound, not Forbidden.
func (a *AccessControl) CanViewConversation(ctx context.Context, userID, conversationID uuid.UUID) (*conversation.Conversation, error) {
	conv, err := a.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := EnsureParticipant(conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (a *AccessControl) CanSendMessage(ctx context.Context, userID, conversationID uuid.UUID) (*conversation.Conversation, error) {
	conv, err := a.CanViewConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, bookdesk_errors.Validation("conversation %s is archived", conversationID)
	}
	return conv, nil
}

// CanDeleteMessage allows the sender and privileged roles.
func (a *AccessControl) CanDeleteMessage(userID uuid.UUID, role user.Role, senderID uuid.UUID) error {
	if userID == senderID || role.Privileged() {
		return nil
	}
	return bookdesk_errors.Forbidden("only the sender or an admin may delete this message")
}

// Authorize lets only admins run out-of-band commands.
func (a *AccessControl) Authorize(ctx context.Context, cmd commands.Command) error {
	u, err := a.userRepo.GetByID(ctx, cmd.ActorID())
	if err != nil {
		if bookdesk_errors.CodeOf(err) == bookdesk_errors.CodeNotFound {
			return bookdesk_errors.Forbidden("unknown actor")
		}
		return err
	}
	if u.Role != user.RoleAdmin {
		return bookdesk_errors.Forbidden("%s is admin only", cmd.CommandType())
	}
	return nil
}

func EnsureParticipant(conv *conversation.Conversation, userID uuid.UUID) error {
	if !conv.HasParticipant(userID) {
		return bookdesk_errors.Forbidden("user is not a participant of conversation %s", conv.ID)
	}
	return nil
}
