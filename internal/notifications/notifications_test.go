package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/delivery"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/domain/user"
	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu      sync.Mutex
	callers []uuid.UUID
	cbs     map[uuid.UUID]func([]conversation.Conversation, error)
	stopped int
}

func (f *fakeFeed) ListenToConversations(ctx context.Context, _ repository.ConversationFilter, cb func([]conversation.Conversation, error)) (services.Unsubscribe, error) {
	caller, err := services.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cbs == nil {
		f.cbs = map[uuid.UUID]func([]conversation.Conversation, error){}
	}
	f.callers = append(f.callers, caller.UserID)
	f.cbs[caller.UserID] = cb
	return func() {
		f.mu.Lock()
		f.stopped++
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) emit(admin uuid.UUID, convs ...conversation.Conversation) {
	f.mu.Lock()
	cb := f.cbs[admin]
	f.mu.Unlock()
	cb(convs, nil)
}

type staticAdmins []user.User

func (s staticAdmins) ListAdmins(context.Context) ([]user.User, error) { return s, nil }

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, a Alert, _ []user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func admin(name string) user.User {
	return user.User{ID: uuid.New(), DisplayName: name, Role: user.RoleAdmin}
}

func supportConversation(adminID uuid.UUID, unread int, sender user.Role, at time.Time, content string) conversation.Conversation {
	ts := at
	return conversation.Conversation{
		ID:   uuid.New(),
		Type: conversation.TypeCustomerSupport,
		Metadata: conversation.Metadata{
			CustomerInfo: &conversation.CustomerInfo{Name: "Ada", Email: "ada@example.com"},
		},
		IsActive:     true,
		Participants: []conversation.Participant{{UserID: adminID, UnreadCount: unread}},
		LastMessage:  conversation.LastMessage{SenderRole: sender, Content: content, Timestamp: &ts},
	}
}

func drainQueue(q *Queue) []Alert {
	var out []Alert
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return out
		}
		out = append(out, q.items[0].alert)
		q.items = q.items[1:]
		q.mu.Unlock()
	}
}

func newTestDispatcher(t *testing.T, admins ...user.User) (*Dispatcher, *fakeFeed) {
	t.Helper()
	feed := &fakeFeed{}
	d := NewDispatcher(feed, staticAdmins(admins), nil, Config{}, nil)
	require.NoError(t, d.Start(context.Background()))
	return d, feed
}

func TestStartSubscribesAsEachAdmin(t *testing.T) {
	a, b := admin("a"), admin("b")
	d, feed := newTestDispatcher(t, a, b)

	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, feed.callers)
	d.Stop()
	assert.Equal(t, 2, feed.stopped)
}

func TestFirstSnapshotIsBaseline(t *testing.T) {
	a := admin("a")
	d, feed := newTestDispatcher(t, a)
	now := time.Now().UTC()

	conv := supportConversation(a.ID, 3, user.RoleCustomer, now, "Where is my order?")
	feed.emit(a.ID, conv)
	assert.Equal(t, 0, d.Queue().Len())

	// same state again: nothing new
	feed.emit(a.ID, conv)
	assert.Equal(t, 0, d.Queue().Len())
}

func TestCustomerMessageNotifiesOnce(t *testing.T) {
	a := admin("a")
	d, feed := newTestDispatcher(t, a)
	now := time.Now().UTC()

	conv := supportConversation(a.ID, 0, user.RoleCustomer, now, "hi")
	feed.emit(a.ID, conv)

	conv.Participants[0].UnreadCount = 1
	later := now.Add(time.Minute)
	conv.LastMessage.Timestamp = &later
	conv.LastMessage.Content = "Is the new Pratchett in stock?"
	feed.emit(a.ID, conv)
	feed.emit(a.ID, conv)

	alerts := drainQueue(d.Queue())
	require.Len(t, alerts, 1)
	assert.Equal(t, notification.KindNewMessage, alerts[0].Kind)
	assert.Equal(t, "New message from Ada", alerts[0].Title)
	assert.Equal(t, "Is the new Pratchett in stock?", alerts[0].Body)
	assert.Equal(t, conv.ID, alerts[0].ConversationID)
	assert.False(t, alerts[0].RequiresAck())
}

func TestAdminRepliesDoNotNotify(t *testing.T) {
	a, b := admin("a"), admin("b")
	d, feed := newTestDispatcher(t, a, b)
	now := time.Now().UTC()

	conv := supportConversation(b.ID, 0, user.RoleCustomer, now, "hi")
	feed.emit(b.ID, conv)

	conv.Participants[0].UnreadCount = 1
	later := now.Add(time.Minute)
	conv.LastMessage = conversation.LastMessage{SenderID: a.ID, SenderRole: user.RoleAdmin, Content: "On it", Timestamp: &later}
	feed.emit(b.ID, conv)

	assert.Equal(t, 0, d.Queue().Len())
}

func TestUrgentMessageRequiresAck(t *testing.T) {
	a := admin("a")
	d, feed := newTestDispatcher(t, a)
	now := time.Now().UTC()
	feed.emit(a.ID)

	conv := supportConversation(a.ID, 1, user.RoleCustomer, now, "My order arrived damaged")
	conv.LastMessage.Urgent = true
	feed.emit(a.ID, conv)

	alerts := drainQueue(d.Queue())
	require.Len(t, alerts, 2)
	assert.Equal(t, notification.KindNewConversation, alerts[0].Kind)
	assert.Equal(t, "Ada opened a conversation", alerts[0].Body)
	assert.Equal(t, notification.KindUrgentMessage, alerts[1].Kind)
	assert.True(t, alerts[1].RequiresAck())
}

func TestNewConversationAlertedOnceAcrossAdmins(t *testing.T) {
	a, b := admin("a"), admin("b")
	d, feed := newTestDispatcher(t, a, b)
	feed.emit(a.ID)
	feed.emit(b.ID)

	conv := conversation.Conversation{
		ID:           uuid.New(),
		Type:         conversation.TypeOrderInquiry,
		OrderID:      "ORD-7",
		Metadata:     conversation.Metadata{CustomerInfo: &conversation.CustomerInfo{Name: "Ada"}},
		Participants: []conversation.Participant{{UserID: a.ID}, {UserID: b.ID}},
	}
	feed.emit(a.ID, conv)
	feed.emit(b.ID, conv)

	alerts := drainQueue(d.Queue())
	require.Len(t, alerts, 1)
	assert.Equal(t, "Ada opened a conversation about order ORD-7", alerts[0].Body)
	assert.Equal(t, "ORD-7", alerts[0].OrderID)
}

func TestNoticesReachSinks(t *testing.T) {
	a := admin("a")
	sink := &recordingSink{}
	failing := &recordingSink{fail: true}
	d := NewDispatcher(&fakeFeed{}, staticAdmins{a}, []Sink{failing, sink}, Config{}, nil)

	var _ delivery.Notifier = d
	d.Notify(context.Background(), delivery.Notice{Kind: notification.KindFallbackUsed, Title: "Fallback channel used", Channel: channels.Email})
	require.True(t, d.Queue().Process(context.Background()))

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, notification.KindFallbackUsed, sink.alerts[0].Kind)
	assert.Equal(t, "email", sink.alerts[0].Channel)
	assert.Len(t, failing.alerts, 1, "a failing sink does not stop the others")
}

func TestQueueOnePerTickAndStaleDrop(t *testing.T) {
	var sent []string
	q := NewQueue(time.Second, 5*time.Minute, func(_ context.Context, a Alert) {
		sent = append(sent, a.Title)
	}, nil)
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	ctx := context.Background()

	q.Push(Alert{Title: "old-1"})
	q.Push(Alert{Title: "old-2"})
	clock = clock.Add(4 * time.Minute)
	q.Push(Alert{Title: "fresh-1"})
	q.Push(Alert{Title: "fresh-2"})

	clock = clock.Add(time.Minute + time.Second)
	assert.True(t, q.Process(ctx))
	assert.Equal(t, []string{"fresh-1"}, sent)
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.Process(ctx))
	assert.False(t, q.Process(ctx))
	assert.Equal(t, []string{"fresh-1", "fresh-2"}, sent)

	q.Push(Alert{Title: "late"})
	clock = clock.Add(5*time.Minute + time.Second)
	assert.False(t, q.Process(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestInAppSinkStoresOneRowPerAdmin(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewNotificationRepository(db)
	sink := NewInAppSink(repo)
	a, b := admin("a"), admin("b")
	convID := uuid.New()

	alert := Alert{
		Kind:           notification.KindUrgentMessage,
		Title:          "Urgent message from Ada",
		Body:           "damaged",
		ConversationID: convID,
		CustomerName:   "Ada",
		CustomerEmail:  "ada@example.com",
		OrderID:        "ORD-1",
		Urgent:         true,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, sink.Deliver(context.Background(), alert, []user.User{a, b}))

	items, err := repo.ListForRecipient(context.Background(), b.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	n := items[0]
	assert.True(t, n.RequiresAck)
	assert.Equal(t, convID.String(), n.Data["conversationId"])
	assert.Equal(t, "ORD-1", n.Data["orderId"])
	assert.Equal(t, []notification.Action{notification.ActionOpenConversation, notification.ActionMarkRead}, n.Actions)
}

type sentTelegram struct {
	chatID, text, parseMode string
	keyboard                *channels.InlineKeyboard
}

type fakeBot struct {
	sent []sentTelegram
}

func (f *fakeBot) Configured() bool { return true }

func (f *fakeBot) SendMessage(_ context.Context, chatID, text, parseMode string, kb *channels.InlineKeyboard) error {
	f.sent = append(f.sent, sentTelegram{chatID, text, parseMode, kb})
	return nil
}

func TestTelegramSinkSkipsMutedAndDisabledAdmins(t *testing.T) {
	_, client := testutil.NewRedis(t)
	mutes := bookredis.NewMuteStore(client, time.Hour)
	bot := &fakeBot{}
	sink := NewTelegramSink(bot, mutes, "https://shop.example/")
	ctx := context.Background()

	on := admin("on")
	on.TelegramEnabled, on.TelegramChatID = true, "100"
	muted := admin("muted")
	muted.TelegramEnabled, muted.TelegramChatID = true, "200"
	off := admin("off")
	off.TelegramChatID = "300"

	convID := uuid.New()
	require.NoError(t, mutes.Mute(ctx, muted.ID, convID))

	alert := Alert{Kind: notification.KindNewMessage, Title: "New message from <Ada>", Body: "a & b", ConversationID: convID, OrderID: "ORD-9"}
	require.NoError(t, sink.Deliver(ctx, alert, []user.User{on, muted, off}))

	require.Len(t, bot.sent, 1)
	msg := bot.sent[0]
	assert.Equal(t, "100", msg.chatID)
	assert.Equal(t, "HTML", msg.parseMode)
	assert.Contains(t, msg.text, "<b>New message from &lt;Ada&gt;</b>")
	assert.Contains(t, msg.text, "a &amp; b")
	assert.Contains(t, msg.text, "<code>ORD-9</code>")

	require.NotNil(t, msg.keyboard)
	rows := msg.keyboard.InlineKeyboard
	assert.Equal(t, "https://shop.example/admin/messages/"+convID.String(), rows[0][0].URL)
	assert.Equal(t, "read:"+convID.String(), rows[1][0].CallbackData)
	assert.Equal(t, "mute:"+convID.String(), rows[1][1].CallbackData)

	bot.sent = nil
	require.NoError(t, sink.Deliver(ctx, Alert{Kind: notification.KindDeliveryFailed, Title: "x"}, []user.User{on}))
	assert.Empty(t, bot.sent, "notices stay off Telegram")
}

type fakePusher struct {
	frames map[string][][]byte
}

func (f *fakePusher) BroadcastToUser(userID string, payload []byte) {
	if f.frames == nil {
		f.frames = map[string][][]byte{}
	}
	f.frames[userID] = append(f.frames[userID], payload)
}

func TestBrowserSinkFrames(t *testing.T) {
	pusher := &fakePusher{}
	sink := NewBrowserSink(pusher, 10*time.Second)
	a := admin("a")
	convID := uuid.New()

	require.NoError(t, sink.Deliver(context.Background(), Alert{Kind: notification.KindNewMessage, Title: "t", ConversationID: convID}, []user.User{a}))
	require.NoError(t, sink.Deliver(context.Background(), Alert{Kind: notification.KindUrgentMessage, Title: "u", ConversationID: convID, Urgent: true}, []user.User{a}))

	frames := pusher.frames[a.ID.String()]
	require.Len(t, frames, 2)

	var normal, urgent BrowserPush
	require.NoError(t, json.Unmarshal(frames[0], &normal))
	require.NoError(t, json.Unmarshal(frames[1], &urgent))

	assert.Equal(t, "conversation-"+convID.String(), normal.Tag)
	assert.Equal(t, normal.Tag, urgent.Tag)
	assert.False(t, normal.RequireInteraction)
	assert.Equal(t, int64(10000), normal.AutoDismissMs)
	assert.True(t, urgent.RequireInteraction)
	assert.Zero(t, urgent.AutoDismissMs)
	assert.True(t, strings.HasPrefix(tagFor(Alert{Kind: notification.KindOfflineDrained}), "notice-"))
}
