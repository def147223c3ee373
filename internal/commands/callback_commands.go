package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CallbackAction is the verb encoded in Telegram callback data as
// "<action>:<conversation id>".
type CallbackAction string

const (
	ActionMarkRead CallbackAction = "read"
	ActionMute     CallbackAction = "mute"
)

const (
	TypeMarkRead = "conversation.mark_read"
	TypeMute     = "conversation.mute"
)

var callbackActions = map[CallbackAction]string{
	ActionMarkRead: TypeMarkRead,
	ActionMute:     TypeMute,
}

// ConversationCommand targets one conversation on behalf of an admin.
type ConversationCommand struct {
	Type           string
	Actor          uuid.UUID
	ConversationID uuid.UUID
}

func (c ConversationCommand) CommandType() string { return c.Type }

func (c ConversationCommand) ActorID() uuid.UUID { return c.Actor }

func (c ConversationCommand) Validate() error {
	if c.Actor == uuid.Nil {
		return fmt.Errorf("%w: actor is required", ErrInvalidCommand)
	}
	if c.ConversationID == uuid.Nil {
		return fmt.Errorf("%w: conversation is required", ErrInvalidCommand)
	}
	return nil
}

// CallbackData renders the callback payload for an inline keyboard button.
func CallbackData(action CallbackAction, conversationID uuid.UUID) string {
	return string(action) + ":" + conversationID.String()
}

// ParseCallback maps callback data onto a command. Unknown actions are
// rejected with ErrHandlerNotFound.
func ParseCallback(data string, actor uuid.UUID) (ConversationCommand, error) {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return ConversationCommand{}, fmt.Errorf("%w: malformed callback data", ErrInvalidCommand)
	}
	commandType, known := callbackActions[CallbackAction(action)]
	if !known {
		return ConversationCommand{}, ErrHandlerNotFound
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return ConversationCommand{}, fmt.Errorf("%w: bad conversation id", ErrInvalidCommand)
	}
	return ConversationCommand{Type: commandType, Actor: actor, ConversationID: id}, nil
}
