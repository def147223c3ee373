package commands

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrHandlerNotFound = errors.New("command handler not found")
	ErrInvalidCommand  = errors.New("invalid command payload")
)

// Command is an admin action arriving from outside the HTTP API, such as a
// Telegram inline keyboard button.
type Command interface {
	CommandType() string
	Validate() error
	// ActorID is the user the command is executed for.
	ActorID() uuid.UUID
}

type Result struct {
	AggregateID string
	Message     string
}

type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}
