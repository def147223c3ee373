package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/featureflags"
	"bookdesk/internal/observability"
	bookdesk_errors "bookdesk/pkg/errors"
	"bookdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var fallbackFlags = map[channels.Name]featureflags.Flag{
	channels.Telegram: featureflags.FallbackTelegram,
	channels.Email:    featureflags.FallbackEmail,
	channels.SMS:      featureflags.FallbackSMS,
}

// Engine sends messages through the primary channel and degrades to the
// fallback channels, the retry queue and the offline queue.
type Engine struct {
	cfg       Config
	primary   channels.Sender
	fallbacks map[channels.Name]channels.Sender
	flags     FlagSource
	offline   OfflineStore
	notifier  Notifier
	recorder  Recorder
	log       *logger.Logger
	now       func() time.Time

	// delivered remembers idempotency keys that already went out.
	delivered *cache.Cache

	mu           sync.Mutex
	retryQueue   []QueueEntry
	offlineQueue []QueueEntry
	// inflight holds drained entries not yet attempted; they stay persisted.
	inflight []QueueEntry
	online   bool
	draining bool
	// unsaved is set while the durable copy lags behind the offline queue.
	unsaved bool
}

// NewEngine builds an engine that starts out online. A nil flag source
// enables every feature; a nil offline store keeps the offline queue in
// memory only.
func NewEngine(cfg Config, primary channels.Sender, fallbacks []channels.Sender, flags FlagSource, offline OfflineStore, notifier Notifier, log *logger.Logger) *Engine {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	byName := make(map[channels.Name]channels.Sender, len(fallbacks))
	for _, f := range fallbacks {
		if f == nil || f.Name() == cfg.Primary {
			continue
		}
		byName[f.Name()] = f
	}
	observability.Online.Set(1)
	return &Engine{
		cfg:       cfg,
		primary:   primary,
		fallbacks: byName,
		flags:     flags,
		offline:   offline,
		notifier:  notifier,
		log:       logger.OrNop(log).Named("delivery"),
		now:       func() time.Time { return time.Now().UTC() },
		delivered: cache.New(cfg.DeliveredTTL, cfg.DeliveredTTL/4),
		online:    true,
	}
}

// WithRecorder stores fallback outcomes on the message.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

func (e *Engine) flagOn(f featureflags.Flag) bool {
	return e.flags == nil || e.flags.Enabled(f)
}

// Send delivers req. Fallback deliveries and queued requests return a nil
// error; a terminal failure returns the error that caused it.
func (e *Engine) Send(ctx context.Context, req Request) (Outcome, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Type == "" {
		req.Type = message.TypeText
	}

	if !e.Online() && e.flagOn(featureflags.OfflineQueue) {
		out := Outcome{RequestID: req.ID, State: StateOfflineQueued, Queued: true}
		if err := e.enqueueOffline(ctx, req); err != nil {
			e.log.Warn("offline queue not persisted, retrying on next tick", zap.String("request_id", req.ID.String()), zap.Error(err))
			out.Error = "offline queue not persisted: " + err.Error()
		}
		e.notifier.Notify(ctx, Notice{
			Kind:           notification.KindMessageQueued,
			Title:          "Message queued",
			Body:           "You are offline. The message will be sent once the connection is back.",
			RequestID:      req.ID,
			ConversationID: req.ConversationID,
		})
		return e.finish(req, out), nil
	}
	return e.deliver(ctx, req)
}

func (e *Engine) deliver(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{RequestID: req.ID}
	e.transition(req, StateAttemptingPrimary)

	err := e.attempt(ctx, e.primary, req)
	if err == nil {
		out.State, out.Success, out.Channel = StateDelivered, true, e.primary.Name()
		return e.finish(req, out), nil
	}
	if bookdesk_errors.IsStoreError(err) {
		out.State, out.Error = StateTerminalFailure, err.Error()
		return e.finish(req, out), err
	}
	return e.recover(ctx, req, err, 0)
}

// recover classifies a primary failure and walks the fallback chain, queueing
// the request for retry when every fallback failed.
func (e *Engine) recover(ctx context.Context, req Request, cause error, retries int) (Outcome, error) {
	e.transition(req, StateClassifyError)
	cls := classify(cause, e.cfg.RateLimitRetryAfter)
	out := Outcome{RequestID: req.ID, ErrorKind: cls.Kind.String()}

	e.log.Warn("primary delivery failed",
		zap.String("request_id", req.ID.String()),
		zap.String("kind", cls.Kind.String()),
		zap.Error(cause),
	)
	if cls.Kind == KindRateLimit {
		e.notifyRateLimited(ctx, req, cls.RetryAfter)
	}

	e.transition(req, StateTryFallbacks)
	if ch, ok := e.tryFallbacks(ctx, req); ok {
		out.State, out.Success, out.Channel = StateDeliveredViaFallback, true, ch
		return e.finish(req, out), nil
	}

	if cls.Kind.Retryable() && e.flagOn(featureflags.RetryQueue) {
		e.enqueueRetry(req, cls, cause, retries)
		e.notifier.Notify(ctx, Notice{
			Kind:           notification.KindMessageQueued,
			Title:          "Message queued for retry",
			Body:           fmt.Sprintf("Delivery failed (%s). It will be retried automatically.", cls.Kind),
			RequestID:      req.ID,
			ConversationID: req.ConversationID,
			RetryAfter:     cls.RetryAfter,
		})
		out.State, out.Queued = StateQueuedForRetry, true
		return e.finish(req, out), nil
	}
	return e.fail(ctx, req, out, cause)
}

func (e *Engine) fail(ctx context.Context, req Request, out Outcome, cause error) (Outcome, error) {
	out.State, out.Success, out.Queued = StateTerminalFailure, false, false
	out.Error = cause.Error()
	e.notifier.Notify(ctx, Notice{
		Kind:           notification.KindDeliveryFailed,
		Title:          "Message not delivered",
		Body:           fmt.Sprintf("Every channel failed: %v", cause),
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
	})
	e.log.Error("delivery failed", zap.String("request_id", req.ID.String()), zap.Error(cause))
	return e.finish(req, out), cause
}

// attempt sends through one channel. Keys that were already delivered are not
// sent again. Authentication failures get one credential refresh and resend.
func (e *Engine) attempt(ctx context.Context, ch channels.Sender, req Request) error {
	key := IdempotencyKey(req.ID, ch.Name())
	if _, done := e.delivered.Get(key); done {
		return nil
	}

	env := req.envelope(ch.Name())
	err := ch.Send(ctx, env)
	if err != nil && !bookdesk_errors.IsStoreError(err) && Classify(err).Kind == KindAuthentication && e.flagOn(featureflags.AuthRefresh) {
		if refresher, ok := ch.(channels.CredentialRefresher); ok {
			if rerr := refresher.RefreshCredentials(ctx); rerr != nil {
				e.log.Warn("credential refresh failed", zap.String("channel", string(ch.Name())), zap.Error(rerr))
			} else {
				err = ch.Send(ctx, env)
			}
		}
	}

	if err != nil {
		observability.DeliveryAttempts.WithLabelValues(string(ch.Name()), "failure").Inc()
		return err
	}
	observability.DeliveryAttempts.WithLabelValues(string(ch.Name()), "success").Inc()
	e.delivered.SetDefault(key, struct{}{})
	return nil
}

// candidates lists the fallback channels enabled by flag and able to reach
// the recipient, in fixed priority order.
func (e *Engine) candidates(req Request) []channels.Sender {
	var out []channels.Sender
	for _, name := range channels.FallbackOrder {
		if name == e.cfg.Primary {
			continue
		}
		ch, ok := e.fallbacks[name]
		if !ok || !e.flagOn(fallbackFlags[name]) || !ch.Available(req.Recipient) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (e *Engine) tryFallbacks(ctx context.Context, req Request) (channels.Name, bool) {
	for _, ch := range e.candidates(req) {
		err := e.attempt(ctx, ch, req)
		e.record(ctx, req.ID, ch.Name(), err == nil)
		if err == nil {
			e.notifier.Notify(ctx, Notice{
				Kind:           notification.KindFallbackUsed,
				Title:          "Fallback channel used",
				Body:           fmt.Sprintf("Message delivered via %s", ch.Name()),
				RequestID:      req.ID,
				ConversationID: req.ConversationID,
				Channel:        ch.Name(),
			})
			return ch.Name(), true
		}
		cls := classify(err, e.cfg.RateLimitRetryAfter)
		if cls.Kind == KindRateLimit {
			e.notifyRateLimited(ctx, req, cls.RetryAfter)
		}
		e.log.Warn("fallback delivery failed",
			zap.String("request_id", req.ID.String()),
			zap.String("channel", string(ch.Name())),
			zap.String("kind", cls.Kind.String()),
			zap.Error(err),
		)
	}
	return "", false
}

func (e *Engine) record(ctx context.Context, id uuid.UUID, ch channels.Name, delivered bool) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordDelivery(ctx, id, ch, delivered); err != nil {
		e.log.Warn("delivery status not recorded", zap.String("request_id", id.String()), zap.Error(err))
	}
}

func (e *Engine) notifyRateLimited(ctx context.Context, req Request, after time.Duration) {
	seconds := int(after.Round(time.Second) / time.Second)
	e.notifier.Notify(ctx, Notice{
		Kind:           notification.KindRateLimited,
		Title:          "Rate limited",
		Body:           fmt.Sprintf("Sending is rate limited. Retrying in %d seconds.", seconds),
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		RetryAfter:     after,
	})
}

func (e *Engine) transition(req Request, s State) {
	e.log.Debugf("request %s -> %s", req.ID, s)
}

func (e *Engine) finish(req Request, out Outcome) Outcome {
	e.transition(req, out.State)
	observability.DeliveryOutcomes.WithLabelValues(out.State.String()).Inc()
	return out
}

func (e *Engine) enqueueRetry(req Request, cls Classification, cause error, retries int) {
	entry := QueueEntry{
		Request:    req,
		RetryCount: retries,
		Timestamp:  e.now(),
		LastError:  cause.Error(),
	}
	if cls.Kind == KindRateLimit && cls.RetryAfter > 0 {
		entry.RetryAfterMs = cls.RetryAfter.Milliseconds()
	}

	e.mu.Lock()
	e.retryQueue = append(e.retryQueue, entry)
	depth := len(e.retryQueue)
	e.mu.Unlock()
	observability.RetryQueueDepth.Set(float64(depth))
}

// ProcessRetries retries every eligible entry of the retry queue through the
// primary channel and returns how many were attempted. Entries that reach
// MaxRetries get one last pass over the fallbacks, then are abandoned.
func (e *Engine) ProcessRetries(ctx context.Context) int {
	now := e.now()

	e.mu.Lock()
	var due, waiting []QueueEntry
	for _, entry := range e.retryQueue {
		if entry.Eligible(now, e.cfg) {
			due = append(due, entry)
		} else {
			waiting = append(waiting, entry)
		}
	}
	e.retryQueue = waiting
	e.mu.Unlock()

	for _, entry := range due {
		if ctx.Err() != nil {
			e.requeue(entry)
			continue
		}
		e.retry(ctx, entry)
	}

	e.mu.Lock()
	observability.RetryQueueDepth.Set(float64(len(e.retryQueue)))
	e.mu.Unlock()
	return len(due)
}

func (e *Engine) retry(ctx context.Context, entry QueueEntry) {
	req := entry.Request
	e.transition(req, StateAttemptingPrimary)

	err := e.attempt(ctx, e.primary, req)
	if err == nil {
		e.finish(req, Outcome{RequestID: req.ID, State: StateDelivered, Success: true, Channel: e.primary.Name()})
		return
	}
	cls := classify(err, e.cfg.RateLimitRetryAfter)
	out := Outcome{RequestID: req.ID, ErrorKind: cls.Kind.String()}
	if bookdesk_errors.IsStoreError(err) {
		_, _ = e.fail(ctx, req, out, err)
		return
	}

	entry.RetryCount++
	if entry.RetryCount >= e.cfg.MaxRetries || !cls.Kind.Retryable() {
		e.log.Warn("retries exhausted", zap.String("request_id", req.ID.String()), zap.Int("retries", entry.RetryCount))
		e.transition(req, StateTryFallbacks)
		if ch, ok := e.tryFallbacks(ctx, req); ok {
			out.State, out.Success, out.Channel = StateDeliveredViaFallback, true, ch
			e.finish(req, out)
			return
		}
		_, _ = e.fail(ctx, req, out, err)
		return
	}

	entry.Timestamp = e.now()
	entry.LastError = err.Error()
	entry.RetryAfterMs = 0
	if cls.Kind == KindRateLimit {
		entry.RetryAfterMs = cls.RetryAfter.Milliseconds()
		e.notifyRateLimited(ctx, req, cls.RetryAfter)
	}
	e.transition(req, StateQueuedForRetry)
	e.requeue(entry)
}

func (e *Engine) requeue(entry QueueEntry) {
	e.mu.Lock()
	e.retryQueue = append(e.retryQueue, entry)
	e.mu.Unlock()
}

// RetryQueue returns a copy of the pending retries.
func (e *Engine) RetryQueue() []QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]QueueEntry(nil), e.retryQueue...)
}

// OfflineQueue returns a copy of the requests waiting for connectivity.
func (e *Engine) OfflineQueue() []QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]QueueEntry(nil), e.offlineQueue...)
}

// Run processes the retry queue every RetryInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ProcessRetries(ctx)
			e.flushOffline(ctx)
		}
	}
}

// offline queue

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records connectivity. While online, any offline backlog is
// drained, including one restored at startup; the number of drained requests
// is returned.
func (e *Engine) SetOnline(ctx context.Context, online bool) int {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if online {
		observability.Online.Set(1)
	} else {
		observability.Online.Set(0)
	}

	switch {
	case !was && online:
		e.log.Info("connectivity restored")
	case was && !online:
		e.log.Warn("connectivity lost, queueing sends")
	}
	if !online {
		return 0
	}
	return e.DrainOffline(ctx)
}

func (e *Engine) enqueueOffline(ctx context.Context, req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offlineQueue = append(e.offlineQueue, QueueEntry{Request: req, Timestamp: e.now()})
	observability.OfflineQueueDepth.Set(float64(len(e.offlineQueue)))
	return e.persistLocked(ctx)
}

// persistLocked writes the in-flight and offline entries to the durable
// store. e.mu must be held.
func (e *Engine) persistLocked(ctx context.Context) error {
	if e.offline == nil {
		return nil
	}
	err := e.writeLocked(ctx)
	e.unsaved = err != nil
	return err
}

func (e *Engine) writeLocked(ctx context.Context) error {
	pending := make([]QueueEntry, 0, len(e.inflight)+len(e.offlineQueue))
	pending = append(append(pending, e.inflight...), e.offlineQueue...)
	if len(pending) == 0 {
		return e.offline.Clear(ctx)
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return e.offline.Put(ctx, data)
}

// flushOffline retries a durable write that failed earlier.
func (e *Engine) flushOffline(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.unsaved {
		return
	}
	if err := e.persistLocked(ctx); err != nil {
		e.log.Warn("offline queue still not persisted", zap.Error(err))
		return
	}
	e.log.Info("offline queue persisted", zap.Int("entries", len(e.inflight)+len(e.offlineQueue)))
}

// Restore loads the persisted offline queue, typically once at startup.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.offline == nil {
		return 0, nil
	}
	data, err := e.offline.Get(ctx)
	if err != nil || len(data) == 0 {
		return 0, err
	}
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("decode offline queue: %w", err)
	}

	e.mu.Lock()
	e.offlineQueue = append(entries, e.offlineQueue...)
	depth := len(e.offlineQueue)
	e.mu.Unlock()
	observability.OfflineQueueDepth.Set(float64(depth))
	e.log.Info("offline queue restored", zap.Int("entries", len(entries)))
	return len(entries), nil
}

// DrainOffline sends every offline entry in enqueue order through the primary
// channel once. Entries that fail again go through the fallback chain. The
// durable copy is rewritten after every attempt.
func (e *Engine) DrainOffline(ctx context.Context) int {
	e.mu.Lock()
	if e.draining || len(e.offlineQueue) == 0 {
		e.mu.Unlock()
		return 0
	}
	e.inflight = e.offlineQueue
	e.offlineQueue = nil
	e.draining = true
	e.mu.Unlock()

	drained := 0
	for {
		e.mu.Lock()
		if len(e.inflight) == 0 || ctx.Err() != nil {
			e.offlineQueue = append(e.inflight, e.offlineQueue...)
			e.inflight = nil
			e.mu.Unlock()
			break
		}
		entry := e.inflight[0]
		e.mu.Unlock()

		drained++
		req := entry.Request
		e.transition(req, StateAttemptingPrimary)
		err := e.attempt(ctx, e.primary, req)
		switch {
		case err == nil:
			e.finish(req, Outcome{RequestID: req.ID, State: StateDelivered, Success: true, Channel: e.primary.Name()})
		case bookdesk_errors.IsStoreError(err):
			_, _ = e.fail(ctx, req, Outcome{RequestID: req.ID}, err)
		default:
			_, _ = e.recover(ctx, req, err, 0)
		}

		e.mu.Lock()
		e.inflight = e.inflight[1:]
		if err := e.persistLocked(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("offline queue not persisted during drain", zap.Error(err))
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.draining = false
	depth := len(e.offlineQueue)
	if err := e.persistLocked(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("offline queue not persisted after drain", zap.Error(err))
	}
	e.mu.Unlock()
	observability.OfflineQueueDepth.Set(float64(depth))

	if drained > 0 {
		e.notifier.Notify(ctx, Notice{
			Kind:  notification.KindOfflineDrained,
			Title: "Back online",
			Body:  fmt.Sprintf("Drained %d queued messages", drained),
			Count: drained,
		})
	}
	e.log.Info("offline queue drained", zap.Int("messages", drained))
	return drained
}
