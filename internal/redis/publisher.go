package redis

import (
	"context"
	"fmt"

	"bookdesk/internal/events"

	"github.com/redis/go-redis/v9"
)

// Broker carries the live change feed over Redis pub/sub so that every API
// instance sees the changes committed by the others.
type Broker struct {
	client *redis.Client
	buf    int
}

var _ events.Broker = (*Broker)(nil)

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client, buf: 64}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pattern subscription and waits for the server to confirm
// it, so that no publish issued after Subscribe returns is missed.
func (b *Broker) Subscribe(ctx context.Context, patterns ...string) (events.Subscription, error) {
	ps := b.client.PSubscribe(ctx, patterns...)
	for range patterns {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("psubscribe %v: %w", patterns, err)
		}
	}

	sub := &redisSubscription{ps: ps, out: make(chan events.Message, b.buf)}
	go sub.forward(ctx)
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan events.Message
}

func (s *redisSubscription) forward(ctx context.Context) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- events.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				_ = s.ps.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan events.Message {
	return s.out
}

// Close ends the subscription; Messages is closed once the forwarder exits.
func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
