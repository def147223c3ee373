package services

import (
	"context"
	"sync"

	"bookdesk/internal/events"
	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

// Unsubscribe stops a live listener and releases its feed subscription.
// It is safe to call more than once.
type Unsubscribe func()

// listen delivers load's result to cb immediately and again after every
// change event on patterns. Events that pile up while a load is running are
// coalesced into a single reload. All callbacks run on one goroutine, in order.
func listen[T any](ctx context.Context, feed events.Subscriber, log *logger.Logger, patterns []string, load func(context.Context) (T, error), cb func(T, error)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := feed.Subscribe(ctx, patterns...)
	if err != nil {
		cancel()
		return nil, err
	}

	deliver := func() {
		result, err := load(ctx)
		if ctx.Err() != nil {
			return
		}
		cb(result, err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Messages():
				if !ok {
					return
				}
				if !drain(sub) {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			log.Debugf("listener on %v stopped", patterns)
		})
	}, nil
}

// drain discards already buffered events. It returns false once the
// subscription is closed.
func drain(sub events.Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func logListenError(log *logger.Logger, what string, err error) {
	if err != nil {
		log.Warn("listener reload failed", zap.String("listener", what), zap.Error(err))
	}
}
