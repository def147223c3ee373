package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyProxy struct{ err error }

func (d denyProxy) Authorize(context.Context, Command) error { return d.err }

func TestParseCallback(t *testing.T) {
	actor, conv := uuid.New(), uuid.New()

	cmd, err := ParseCallback(CallbackData(ActionMarkRead, conv), actor)
	require.NoError(t, err)
	assert.Equal(t, "conversation.mark_read", cmd.CommandType())
	assert.Equal(t, conv, cmd.ConversationID)
	assert.Equal(t, actor, cmd.ActorID())

	_, err = ParseCallback("delete:"+conv.String(), actor)
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	_, err = ParseCallback("read:not-a-uuid", actor)
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = ParseCallback("garbage", actor)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestBusExecute(t *testing.T) {
	called := 0
	bus := NewBus(nil)
	bus.Register("conversation.mute", HandlerFunc(func(ctx context.Context, cmd Command) (Result, error) {
		called++
		return Result{Message: "muted"}, nil
	}))

	res, err := bus.Execute(context.Background(), ConversationCommand{Type: "conversation.mute", Actor: uuid.New(), ConversationID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "muted", res.Message)
	assert.Equal(t, 1, called)

	_, err = bus.Execute(context.Background(), ConversationCommand{Type: "conversation.mute"})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = bus.Execute(context.Background(), ConversationCommand{Type: "unknown", Actor: uuid.New(), ConversationID: uuid.New()})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Equal(t, 1, called)
}

func TestBusProxyChainRejects(t *testing.T) {
	denied := errors.New("not an admin")
	var seen []string
	audit := ProxyFunc(func(_ context.Context, cmd Command) error {
		seen = append(seen, cmd.CommandType())
		return nil
	})
	bus := NewBus(NewProxyChain(nil, AuditProxy(nil), audit, denyProxy{err: denied}))
	bus.Register("conversation.mute", HandlerFunc(func(ctx context.Context, cmd Command) (Result, error) {
		t.Fatal("handler must not run")
		return Result{}, nil
	}))

	_, err := bus.Execute(context.Background(), ConversationCommand{Type: "conversation.mute", Actor: uuid.New(), ConversationID: uuid.New()})
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{"conversation.mute"}, seen)
}
