package events

import "context"

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber opens pattern subscriptions (glob syntax, e.g.
// "channel:conversation:*"). The subscription is active once Subscribe returns.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan Message
	Close() error
}

type Broker interface {
	Publisher
	Subscriber
}
