package notifications

import (
	"context"
	"sync"
	"time"

	"bookdesk/internal/observability"
	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultTick       = time.Second
	DefaultStaleAfter = 5 * time.Minute
)

type queued struct {
	alert    Alert
	enqueued time.Time
}

// Queue paces alert dispatch: one alert per tick, oldest first. Alerts that
// waited longer than the staleness threshold are dropped unsent.
type Queue struct {
	mu         sync.Mutex
	items      []queued
	tick       time.Duration
	staleAfter time.Duration
	dispatch   func(ctx context.Context, a Alert)
	now        func() time.Time
	log        *logger.Logger
}

func NewQueue(tick, staleAfter time.Duration, dispatch func(ctx context.Context, a Alert), log *logger.Logger) *Queue {
	if tick <= 0 {
		tick = DefaultTick
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Queue{
		tick:       tick,
		staleAfter: staleAfter,
		dispatch:   dispatch,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.OrNop(log).Named("notification_queue"),
	}
}

func (q *Queue) Push(a Alert) {
	q.mu.Lock()
	q.items = append(q.items, queued{alert: a, enqueued: q.now()})
	depth := len(q.items)
	q.mu.Unlock()
	observability.NotificationQueueDepth.Set(float64(depth))
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Process handles the head of the queue. Stale entries at the head are
// discarded; the first fresh one is dispatched. It reports whether an alert
// was dispatched.
func (q *Queue) Process(ctx context.Context) bool {
	now := q.now()

	q.mu.Lock()
	dropped := 0
	for len(q.items) > 0 && now.Sub(q.items[0].enqueued) > q.staleAfter {
		q.items = q.items[1:]
		dropped++
	}
	var next *queued
	if len(q.items) > 0 {
		head := q.items[0]
		q.items = q.items[1:]
		next = &head
	}
	depth := len(q.items)
	q.mu.Unlock()

	observability.NotificationQueueDepth.Set(float64(depth))
	if dropped > 0 {
		observability.NotificationsDropped.Add(float64(dropped))
		q.log.Warn("dropped stale notifications", zap.Int("count", dropped))
	}
	if next == nil {
		return false
	}
	q.dispatch(ctx, next.alert)
	return true
}

func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Process(ctx)
		}
	}
}
