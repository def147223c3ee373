package testutil

import (
	"context"
	"path"
	"sync"

	"bookdesk/internal/events"
)

// LocalBus is an in-process events.Broker for package tests. Patterns use
// the same glob syntax as redis PSUBSCRIBE.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[int]*localSubscription
	next int
	buf  int
}

type localSubscription struct {
	bus      *LocalBus
	id       int
	patterns []string
	ch       chan events.Message
	once     sync.Once
}

func NewLocalBus(bufSize int) *LocalBus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &LocalBus{subs: make(map[int]*localSubscription), buf: bufSize}
}

// Publish delivers payload to every subscription with a matching pattern.
// Full subscribers miss the message rather than block the publisher.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- events.Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, patterns ...string) (events.Subscription, error) {
	b.mu.Lock()
	sub := &localSubscription{
		bus:      b,
		id:       b.next,
		patterns: patterns,
		ch:       make(chan events.Message, b.buf),
	}
	b.subs[sub.id] = sub
	b.next++
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

func (s *localSubscription) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

func (s *localSubscription) Messages() <-chan events.Message {
	return s.ch
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
	return nil
}
