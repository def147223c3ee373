package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/featureflags"
	"bookdesk/internal/storage"
	"bookdesk/internal/testutil"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name      channels.Name
	available bool

	mu    sync.Mutex
	errs  []error
	calls []channels.Envelope
}

func newStub(name channels.Name, errs ...error) *stubSender {
	return &stubSender{name: name, available: true, errs: errs}
}

func (s *stubSender) Name() channels.Name                 { return s.name }
func (s *stubSender) Available(channels.Recipient) bool { return s.available }

// Send returns the queued errors in order; the last one repeats.
func (s *stubSender) Send(_ context.Context, env channels.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, env)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	if len(s.errs) > 1 {
		s.errs = s.errs[1:]
	}
	return err
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubSender) sentIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.calls))
	for _, c := range s.calls {
		ids = append(ids, c.MessageID)
	}
	return ids
}

type refreshingSender struct {
	*stubSender
	refreshed int
}

func (r *refreshingSender) RefreshCredentials(context.Context) error {
	r.refreshed++
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Kind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notices[len(n.notices)-1]
}

const allOn = "fallback_telegram=on,fallback_email=on,fallback_sms=on,retry_queue=on,offline_queue=on,auth_refresh=on"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(flags string, primary channels.Sender, fallbacks ...channels.Sender) (*Engine, *recordingNotifier, *testClock) {
	notifier := &recordingNotifier{}
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := NewEngine(DefaultConfig(), primary, fallbacks, featureflags.NewManager(flags, nil), nil, notifier, nil)
	e.now = clock.Now
	return e, notifier, clock
}

func request() Request {
	return Request{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		SenderRole:     "admin",
		Recipient:      channels.Recipient{UserID: uuid.New(), TelegramChatID: "42", Email: "reader@example.com", Phone: "+15550100"},
		Body:           "Your order has shipped",
	}
}

var errNetwork = errors.New("network request failed")

func TestPrimarySuccess(t *testing.T) {
	primary := newStub(channels.InApp)
	telegram := newStub(channels.Telegram)
	e, notifier, _ := newTestEngine(allOn, primary, telegram)

	req := request()
	out, err := e.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, out.State)
	assert.True(t, out.State.Terminal())
	assert.True(t, out.Success)
	assert.Equal(t, channels.InApp, out.Channel)
	assert.Equal(t, 0, telegram.callCount())
	assert.Empty(t, notifier.kinds())
	assert.Equal(t, IdempotencyKey(req.ID, channels.InApp), primary.calls[0].IdempotencyKey)
}

func TestFallbackOrderStopsAtFirstSuccess(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	sms := newStub(channels.SMS)
	email := newStub(channels.Email)
	telegram := newStub(channels.Telegram, &channels.HTTPError{Channel: channels.Telegram, StatusCode: http.StatusBadGateway})
	e, notifier, _ := newTestEngine(allOn, primary, sms, email, telegram)

	req := request()
	out, err := e.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDeliveredViaFallback, out.State)
	assert.Equal(t, channels.Email, out.Channel)
	assert.Equal(t, KindNetwork.String(), out.ErrorKind)

	assert.Equal(t, 1, telegram.callCount())
	assert.Equal(t, 1, email.callCount())
	assert.Equal(t, 0, sms.callCount())
	assert.Equal(t, IdempotencyKey(req.ID, channels.Email), email.calls[0].IdempotencyKey)

	assert.Equal(t, []notification.Kind{notification.KindFallbackUsed}, notifier.kinds())
	assert.Equal(t, channels.Email, notifier.last().Channel)
	assert.Empty(t, e.RetryQueue())
}

func TestFallbacksRespectFlagsAndAvailability(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	telegram := newStub(channels.Telegram)
	telegram.available = false
	email := newStub(channels.Email)
	sms := newStub(channels.SMS)
	e, _, _ := newTestEngine("fallback_telegram=on,fallback_email=off,fallback_sms=on,retry_queue=on", primary, telegram, email, sms)

	out, err := e.Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, channels.SMS, out.Channel)
	assert.Equal(t, 0, telegram.callCount())
	assert.Equal(t, 0, email.callCount())
}

func TestPrimaryIsNeverAFallback(t *testing.T) {
	primary := newStub(channels.Telegram, errNetwork)
	email := newStub(channels.Email)
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.Primary = channels.Telegram
	e := NewEngine(cfg, primary, []channels.Sender{primary, email}, nil, nil, notifier, nil)

	out, err := e.Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, channels.Email, out.Channel)
	assert.Equal(t, 1, primary.callCount())
}

func TestRateLimitQueuesWithRetryAfter(t *testing.T) {
	primary := newStub(channels.InApp, &channels.HTTPError{Channel: channels.InApp, StatusCode: http.StatusTooManyRequests, RetryAfter: 30 * time.Second}, nil)
	e, notifier, clock := newTestEngine("retry_queue=on", primary)

	out, err := e.Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StateQueuedForRetry, out.State)
	assert.False(t, out.State.Terminal())
	assert.True(t, out.Queued)
	assert.False(t, out.Success)
	assert.Equal(t, KindRateLimit.String(), out.ErrorKind)

	queue := e.RetryQueue()
	require.Len(t, queue, 1)
	assert.Equal(t, int64(30000), queue[0].RetryAfterMs)

	kinds := notifier.kinds()
	require.Contains(t, kinds, notification.KindRateLimited)
	for _, n := range notifier.notices {
		if n.Kind == notification.KindRateLimited {
			assert.Contains(t, n.Body, "30 seconds")
		}
	}

	clock.Advance(29 * time.Second)
	assert.Equal(t, 0, e.ProcessRetries(context.Background()))
	assert.Equal(t, 1, primary.callCount())

	clock.Advance(time.Second)
	assert.Equal(t, 1, e.ProcessRetries(context.Background()))
	assert.Equal(t, 2, primary.callCount())
	assert.Empty(t, e.RetryQueue())
}

func TestAllChannelsFailUntilTerminal(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	telegram := newStub(channels.Telegram, errNetwork)
	email := newStub(channels.Email, &channels.HTTPError{Channel: channels.Email, StatusCode: http.StatusServiceUnavailable})
	e, notifier, clock := newTestEngine(allOn, primary, telegram, email)

	out, err := e.Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StateQueuedForRetry, out.State)
	assert.Equal(t, 1, telegram.callCount())
	assert.Equal(t, 1, email.callCount())

	// backoff 1s, 2s, then 4s before the third retry exhausts the budget
	for _, step := range []time.Duration{time.Second, 2 * time.Second} {
		clock.Advance(step)
		require.Equal(t, 1, e.ProcessRetries(context.Background()))
		require.Len(t, e.RetryQueue(), 1)
	}
	assert.Equal(t, 2, e.RetryQueue()[0].RetryCount)

	clock.Advance(3 * time.Second)
	assert.Equal(t, 0, e.ProcessRetries(context.Background()))
	clock.Advance(time.Second)
	assert.Equal(t, 1, e.ProcessRetries(context.Background()))

	assert.Empty(t, e.RetryQueue())
	assert.Equal(t, 4, primary.callCount())
	assert.Equal(t, 2, telegram.callCount(), "last resort pass over fallbacks")
	assert.Equal(t, 2, email.callCount())
	assert.Equal(t, notification.KindDeliveryFailed, notifier.last().Kind)
}

func TestValidationErrorIsNeverRetried(t *testing.T) {
	primary := newStub(channels.InApp, &channels.HTTPError{Channel: channels.InApp, StatusCode: http.StatusBadRequest})
	telegram := newStub(channels.Telegram, errNetwork)
	e, notifier, _ := newTestEngine(allOn, primary, telegram)

	out, err := e.Send(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, StateTerminalFailure, out.State)
	assert.Equal(t, KindValidation.String(), out.ErrorKind)
	assert.Equal(t, 1, telegram.callCount())
	assert.Empty(t, e.RetryQueue())
	assert.Equal(t, notification.KindDeliveryFailed, notifier.last().Kind)
}

func TestStoreErrorsReturnImmediately(t *testing.T) {
	primary := newStub(channels.InApp, bookdesk_errors.Forbidden("not a participant"))
	telegram := newStub(channels.Telegram)
	e, _, _ := newTestEngine(allOn, primary, telegram)

	out, err := e.Send(context.Background(), request())
	assert.ErrorIs(t, err, bookdesk_errors.ErrForbidden)
	assert.Equal(t, StateTerminalFailure, out.State)
	assert.Equal(t, 0, telegram.callCount())
}

func TestRetryQueueFlagOffFailsTerminally(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	e, _, _ := newTestEngine("retry_queue=off", primary)

	out, err := e.Send(context.Background(), request())
	assert.ErrorIs(t, err, errNetwork)
	assert.Equal(t, StateTerminalFailure, out.State)
	assert.Empty(t, e.RetryQueue())
}

func TestAuthenticationFailureRefreshesOnce(t *testing.T) {
	primary := &refreshingSender{stubSender: newStub(channels.InApp, &channels.HTTPError{StatusCode: http.StatusUnauthorized}, nil)}
	e, _, _ := newTestEngine(allOn, primary)

	out, err := e.Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, out.State)
	assert.Equal(t, 1, primary.refreshed)
	assert.Equal(t, 2, primary.callCount())
}

func TestDeliveredKeysAreNotResent(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	telegram := newStub(channels.Telegram)
	e, _, _ := newTestEngine(allOn, primary, telegram)

	req := request()
	_, err := e.Send(context.Background(), req)
	require.NoError(t, err)
	out, err := e.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDeliveredViaFallback, out.State)
	assert.Equal(t, 1, telegram.callCount())
}

func openQueue(t *testing.T) *storage.OfflineQueueStore {
	t.Helper()
	store, err := storage.OpenOfflineQueue(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// countingStore records how many entries each durable write held.
type countingStore struct {
	mu     sync.Mutex
	data   []byte
	writes []int
}

func (s *countingStore) Put(_ context.Context, data []byte) error {
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.writes = append(s.writes, len(entries))
	return nil
}

func (s *countingStore) Get(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

func (s *countingStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.writes = append(s.writes, 0)
	return nil
}

type failingStore struct{ err error }

func (f *failingStore) Put(context.Context, []byte) error   { return f.err }
func (f *failingStore) Get(context.Context) ([]byte, error) { return nil, f.err }
func (f *failingStore) Clear(context.Context) error         { return f.err }

func healthy() HealthCheck {
	return HealthCheck{Name: "db", Check: func(context.Context) error { return nil }}
}

func TestOfflineQueueSurvivesRestartAndDrainsInOrder(t *testing.T) {
	store := openQueue(t)
	ctx := context.Background()

	first := NewEngine(DefaultConfig(), newStub(channels.InApp), nil, featureflags.NewManager(allOn, nil), store, nil, nil)
	first.SetOnline(ctx, false)

	a, b := request(), request()
	for _, req := range []Request{a, b} {
		out, err := first.Send(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, StateOfflineQueued, out.State)
		assert.Empty(t, out.Error)
	}
	raw, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), a.ID.String()))

	// a fresh process starts online and picks the queue up from disk
	primary := newStub(channels.InApp)
	notifier := &recordingNotifier{}
	second := NewEngine(DefaultConfig(), primary, nil, featureflags.NewManager(allOn, nil), store, notifier, nil)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Len(t, second.OfflineQueue(), 2)

	m := NewMonitor(second, time.Second, nil, healthy())
	assert.True(t, m.Check(ctx))
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, primary.sentIDs())
	assert.Empty(t, second.OfflineQueue())

	raw, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, raw)

	last := notifier.last()
	assert.Equal(t, notification.KindOfflineDrained, last.Kind)
	assert.Equal(t, 2, last.Count)

	// later heartbeats find nothing left to send
	assert.True(t, m.Check(ctx))
	assert.Equal(t, 2, primary.callCount())
}

func TestOfflineQueueDurableWhileRedisIsDown(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := openQueue(t)
	ctx := context.Background()

	redisUp := HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
	first := NewEngine(DefaultConfig(), newStub(channels.InApp), nil, featureflags.NewManager(allOn, nil), store, nil, nil)
	mr.Close()
	assert.False(t, NewMonitor(first, time.Second, nil, redisUp).Check(ctx))

	req := request()
	out, err := first.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateOfflineQueued, out.State)
	assert.Empty(t, out.Error)

	// the process dies during the outage; the next one still has the send
	primary := newStub(channels.InApp)
	second := NewEngine(DefaultConfig(), primary, nil, featureflags.NewManager(allOn, nil), store, nil, nil)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	require.NoError(t, mr.Restart())
	assert.True(t, NewMonitor(second, time.Second, nil, redisUp).Check(ctx))
	assert.Equal(t, []uuid.UUID{req.ID}, primary.sentIDs())
}

func TestDrainRewritesQueueAfterEverySend(t *testing.T) {
	store := &countingStore{}
	primary := newStub(channels.InApp)
	e := NewEngine(DefaultConfig(), primary, nil, featureflags.NewManager(allOn, nil), store, nil, nil)
	ctx := context.Background()

	e.SetOnline(ctx, false)
	for i := 0; i < 3; i++ {
		_, err := e.Send(ctx, request())
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3}, store.writes)

	assert.Equal(t, 3, e.SetOnline(ctx, true))
	assert.Equal(t, []int{1, 2, 3, 2, 1, 0, 0}, store.writes)
}

func TestUnsavedOfflineQueueIsFlushedOnTick(t *testing.T) {
	store := &failingStore{err: errors.New("disk full")}
	e := NewEngine(DefaultConfig(), newStub(channels.InApp), nil, featureflags.NewManager(allOn, nil), store, nil, nil)
	ctx := context.Background()

	e.SetOnline(ctx, false)
	out, err := e.Send(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, StateOfflineQueued, out.State)
	assert.Contains(t, out.Error, "disk full")

	store.err = nil
	e.flushOffline(ctx)
	e.mu.Lock()
	assert.False(t, e.unsaved)
	e.mu.Unlock()
}

func TestDrainHandsFailuresToFallbacks(t *testing.T) {
	primary := newStub(channels.InApp, errNetwork)
	email := newStub(channels.Email)
	e, notifier, _ := newTestEngine(allOn, primary, email)
	ctx := context.Background()

	e.SetOnline(ctx, false)
	_, err := e.Send(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, 0, primary.callCount())

	assert.Equal(t, 1, e.SetOnline(ctx, true))
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, email.callCount())
	assert.Contains(t, notifier.kinds(), notification.KindFallbackUsed)
	assert.Equal(t, notification.KindOfflineDrained, notifier.last().Kind)
}

func TestMonitorFlipsConnectivity(t *testing.T) {
	primary := newStub(channels.InApp)
	e, _, _ := newTestEngine(allOn, primary)
	down := true
	check := HealthCheck{Name: "db", Check: func(context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	}}
	m := NewMonitor(e, time.Second, nil, check)
	ctx := context.Background()

	assert.False(t, m.Check(ctx))
	assert.False(t, e.Online())

	_, err := e.Send(ctx, request())
	require.NoError(t, err)
	assert.Len(t, e.OfflineQueue(), 1)

	down = false
	assert.True(t, m.Check(ctx))
	assert.True(t, e.Online())
	assert.Empty(t, e.OfflineQueue())
	assert.Equal(t, 1, primary.callCount())
}

func TestHTTPCheck(t *testing.T) {
	srv := newStatusServer(t, http.StatusOK)
	assert.NoError(t, HTTPCheck("api", srv.URL, time.Second).Check(context.Background()))

	failing := newStatusServer(t, http.StatusServiceUnavailable)
	assert.Error(t, HTTPCheck("api", failing.URL, time.Second).Check(context.Background()))
}
