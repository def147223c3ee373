package notifications

import (
	"context"
	"sync"
	"time"

	"bookdesk/internal/delivery"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/observability"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ConversationFeed streams conversation snapshots for the caller in ctx.
type ConversationFeed interface {
	ListenToConversations(ctx context.Context, filter repository.ConversationFilter, cb func([]conversation.Conversation, error)) (services.Unsubscribe, error)
}

type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]user.User, error)
}

type Config struct {
	Tick       time.Duration
	StaleAfter time.Duration
	// Memory bounds how long per-conversation dedup state is kept.
	Memory time.Duration
}

// Dispatcher watches every admin's conversation feed and queues alerts for
// new conversations and for customer messages waiting on an admin. It also
// relays delivery engine notices.
type Dispatcher struct {
	feed   ConversationFeed
	admins AdminDirectory
	sinks  []Sink
	queue  *Queue
	log    *logger.Logger
	now    func() time.Time

	// known holds conversations already observed; notified holds the last
	// message timestamp alerted per conversation.
	known    *cache.Cache
	notified *cache.Cache

	mu       sync.Mutex
	baseline map[uuid.UUID]bool
	unsubs   []services.Unsubscribe
}

func NewDispatcher(feed ConversationFeed, admins AdminDirectory, sinks []Sink, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.Memory <= 0 {
		cfg.Memory = 24 * time.Hour
	}
	d := &Dispatcher{
		feed:     feed,
		admins:   admins,
		sinks:    sinks,
		log:      logger.OrNop(log).Named("notifications"),
		now:      func() time.Time { return time.Now().UTC() },
		known:    cache.New(cfg.Memory, time.Hour),
		notified: cache.New(cfg.Memory, time.Hour),
		baseline: make(map[uuid.UUID]bool),
	}
	d.queue = NewQueue(cfg.Tick, cfg.StaleAfter, d.dispatch, log)
	return d
}

func (d *Dispatcher) Queue() *Queue { return d.queue }

// Start subscribes to the conversation feed of every admin. The first
// snapshot of each subscription only seeds the dedup state.
func (d *Dispatcher) Start(ctx context.Context) error {
	admins, err := d.admins.ListAdmins(ctx)
	if err != nil {
		return err
	}
	for _, admin := range admins {
		admin := admin
		actx := services.WithCaller(ctx, admin.ID, admin.Role)
		unsub, err := d.feed.ListenToConversations(actx, repository.ConversationFilter{}, func(convs []conversation.Conversation, err error) {
			if err != nil {
				d.log.Warn("conversation feed error", zap.String("admin_id", admin.ID.String()), zap.Error(err))
				return
			}
			d.Evaluate(admin.ID, convs)
		})
		if err != nil {
			d.Stop()
			return err
		}
		d.mu.Lock()
		d.unsubs = append(d.unsubs, unsub)
		d.mu.Unlock()
	}
	d.log.Info("notification dispatcher started", zap.Int("admins", len(admins)))
	return nil
}

// Run drains the alert queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.queue.Run(ctx)
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Evaluate inspects one snapshot of adminID's conversations and queues the
// alerts it warrants.
func (d *Dispatcher) Evaluate(adminID uuid.UUID, convs []conversation.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.baseline[adminID] {
		d.baseline[adminID] = true
		for i := range convs {
			d.remember(&convs[i])
		}
		return
	}

	now := d.now()
	for i := range convs {
		conv := &convs[i]
		key := conv.ID.String()

		if _, seen := d.known.Get(key); !seen {
			d.known.SetDefault(key, struct{}{})
			d.queue.Push(newConversationAlert(conv, now))
		}

		if !d.awaitingAdmin(conv, adminID) {
			continue
		}
		at := *conv.LastMessage.Timestamp
		if last, ok := d.notified.Get(key); ok && !at.After(last.(time.Time)) {
			continue
		}
		d.notified.SetDefault(key, at)
		d.queue.Push(newMessageAlert(conv, now))
	}
}

// remember marks conv as seen without alerting.
func (d *Dispatcher) remember(conv *conversation.Conversation) {
	key := conv.ID.String()
	d.known.SetDefault(key, struct{}{})
	if !conv.LastMessage.Present() {
		return
	}
	at := *conv.LastMessage.Timestamp
	if last, ok := d.notified.Get(key); ok && !at.After(last.(time.Time)) {
		return
	}
	d.notified.SetDefault(key, at)
}

// awaitingAdmin is true when adminID has unread messages and the latest one
// was not written by an admin.
func (d *Dispatcher) awaitingAdmin(conv *conversation.Conversation, adminID uuid.UUID) bool {
	return conv.LastMessage.Present() &&
		conv.UnreadFor(adminID) > 0 &&
		conv.LastMessage.SenderRole != user.RoleAdmin
}

// Notify queues a delivery engine notice.
func (d *Dispatcher) Notify(_ context.Context, n delivery.Notice) {
	d.queue.Push(Alert{
		Kind:           n.Kind,
		Title:          n.Title,
		Body:           n.Body,
		ConversationID: n.ConversationID,
		Channel:        string(n.Channel),
		CreatedAt:      d.now(),
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, a Alert) {
	admins, err := d.admins.ListAdmins(ctx)
	if err != nil {
		d.log.Error("notification recipients unavailable", zap.String("kind", string(a.Kind)), zap.Error(err))
		return
	}
	if len(admins) == 0 {
		return
	}
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, a, admins); err != nil {
			d.log.Warn("notification sink failed",
				zap.String("sink", sink.Name()),
				zap.String("kind", string(a.Kind)),
				zap.Error(err),
			)
			continue
		}
		observability.NotificationsSent.WithLabelValues(sink.Name(), string(a.Kind)).Inc()
	}
}
