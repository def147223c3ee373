package websocket

import (
	"context"
	"encoding/json"

	"bookdesk/internal/events"
	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

// Frame is the server to client message shape.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Bridge forwards change feed events to the sessions subscribed to them.
type Bridge struct {
	subscriber events.Subscriber
	hub        *Hub
	log        *logger.Logger
}

func NewBridge(subscriber events.Subscriber, hub *Hub, log *logger.Logger) *Bridge {
	return &Bridge{subscriber: subscriber, hub: hub, log: logger.OrNop(log).Named("ws_bridge")}
}

// Run blocks until ctx is done or the subscription closes.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.subscriber.Subscribe(ctx, events.AllConversations, events.PresenceChannel("*"))
	if err != nil {
		return err
	}
	defer sub.Close()

	for msg := range sub.Messages() {
		payload, err := json.Marshal(Frame{Type: "event", Channel: msg.Channel, Event: msg.Payload})
		if err != nil {
			b.log.Warn("undeliverable feed event", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		b.hub.Broadcast(msg.Channel, payload)
	}
	return ctx.Err()
}
