package handler

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"bookdesk/internal/channels"
	"bookdesk/internal/delivery"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/domain/user"
	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/transport/httpdto"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	mu       sync.Mutex
	online   bool
	queued   bool
	requests []delivery.Request
}

func (e *stubEngine) Send(_ context.Context, req delivery.Request) (delivery.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.queued {
		return delivery.Outcome{RequestID: req.ID, State: delivery.StateQueuedForRetry, Queued: true}, nil
	}
	return delivery.Outcome{RequestID: req.ID, State: delivery.StateDelivered, Success: true, Channel: channels.InApp}, nil
}

func (e *stubEngine) RetryQueue() []delivery.QueueEntry   { return nil }
func (e *stubEngine) OfflineQueue() []delivery.QueueEntry { return nil }
func (e *stubEngine) Online() bool                        { return e.online }

func (e *stubEngine) last() delivery.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func (f *fixture) openConversation(t *testing.T, creator *user.User, participants ...*user.User) httpdto.ConversationResponse {
	t.Helper()
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID.String())
	}
	var conv httpdto.ConversationResponse
	rec := f.do(t, creator, http.MethodPost, "/v1/conversations", httpdto.CreateConversationRequest{
		Type:         string(conversation.TypeCustomerSupport),
		Participants: ids,
	}, &conv)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return conv
}

func TestConversationAndMessageRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)

	conv := f.openConversation(t, admin, customer)
	assert.ElementsMatch(t, []uuid.UUID{admin.ID, customer.ID}, conv.Participants)
	base := "/v1/conversations/" + conv.ID.String()

	var msg message.Message
	rec := f.do(t, customer, http.MethodPost, base+"/messages", httpdto.SendMessageRequest{Content: "Hello"}, &msg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Hello", msg.Content)

	var seen httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, base, nil, &seen)
	assert.Equal(t, 1, seen.Unread)
	require.NotNil(t, seen.LastMessage)
	assert.Equal(t, "Hello", seen.LastMessage.Content)
	f.do(t, customer, http.MethodGet, base, nil, &seen)
	assert.Equal(t, 0, seen.Unread)

	rec = f.do(t, admin, http.MethodPost, base+"/read", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.do(t, admin, http.MethodGet, base, nil, &seen)
	assert.Equal(t, 0, seen.Unread)

	var listed []message.Message
	f.do(t, admin, http.MethodGet, base+"/messages?order=asc", nil, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, message.StatusRead, listed[0].Status)

	var found []message.Message
	f.do(t, admin, http.MethodGet, "/v1/messages/search?q=HELL", nil, &found)
	assert.Len(t, found, 1)

	rec = f.do(t, customer, http.MethodDelete, "/v1/messages/"+msg.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var remaining []message.Message
	f.do(t, admin, http.MethodGet, base+"/messages", nil, &remaining)
	assert.Empty(t, remaining)
}

func TestSendIsIdempotentOnMessageID(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)
	conv := f.openConversation(t, admin, customer)
	base := "/v1/conversations/" + conv.ID.String()

	id := uuid.NewString()
	for i := 0; i < 2; i++ {
		rec := f.do(t, customer, http.MethodPost, base+"/messages", httpdto.SendMessageRequest{MessageID: id, Content: "Hello"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var seen httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, base, nil, &seen)
	assert.Equal(t, 1, seen.Unread)
}

func TestConversationErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)
	stranger := f.user(t, "eve", user.RoleCustomer)
	conv := f.openConversation(t, admin, customer)

	rec := f.do(t, nil, http.MethodGet, "/v1/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, stranger, http.MethodGet, "/v1/conversations/"+conv.ID.String(), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, admin, http.MethodGet, "/v1/conversations/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, admin, http.MethodGet, "/v1/conversations/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, admin, http.MethodPost, "/v1/conversations", httpdto.CreateConversationRequest{Type: "bogus"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = f.do(t, customer, http.MethodPost, "/v1/conversations/"+conv.ID.String()+"/messages", httpdto.SendMessageRequest{Content: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFiltersArchivedConversations(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)
	open := f.openConversation(t, admin, customer)
	archived := f.openConversation(t, admin, customer)

	rec := f.do(t, admin, http.MethodPost, "/v1/conversations/"+archived.ID.String()+"/archive", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, "/v1/conversations?isActive=true", nil, &items)
	require.Len(t, items, 1)
	assert.Equal(t, open.ID, items[0].ID)

	f.do(t, admin, http.MethodGet, "/v1/conversations?isActive=false", nil, &items)
	require.Len(t, items, 1)
	assert.Equal(t, archived.ID, items[0].ID)

	rec = f.do(t, admin, http.MethodGet, "/v1/conversations?isActive=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliverySendPicksCustomerRecipient(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	colleague := f.user(t, "carol", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)
	conv := f.openConversation(t, admin, colleague, customer)

	var out delivery.Outcome
	rec := f.do(t, admin, http.MethodPost, "/v1/delivery/send", httpdto.DeliverRequest{
		ConversationID: conv.ID.String(),
		Content:        "Your order shipped",
		Subject:        "Order update",
	}, &out)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, out.Success)

	req := f.engine.last()
	assert.Equal(t, customer.ID, req.Recipient.UserID)
	assert.Equal(t, "bob@example.com", req.Recipient.Email)
	assert.Equal(t, admin.ID, req.SenderID)
	assert.Equal(t, string(user.RoleAdmin), req.SenderRole)
	assert.Equal(t, conv.ID, req.ConversationID)

	rec = f.do(t, admin, http.MethodPost, "/v1/delivery/send", httpdto.DeliverRequest{
		ConversationID: conv.ID.String(),
		RecipientID:    colleague.ID.String(),
		Content:        "fyi",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, colleague.ID, f.engine.last().Recipient.UserID)

	rec = f.do(t, admin, http.MethodPost, "/v1/delivery/send", httpdto.DeliverRequest{
		ConversationID: conv.ID.String(),
		RecipientID:    uuid.NewString(),
		Content:        "lost",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliverySendQueuedAnswersAccepted(t *testing.T) {
	f := newFixture(t)
	f.engine.queued = true
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)
	conv := f.openConversation(t, admin, customer)

	messageID := uuid.New()
	var out delivery.Outcome
	rec := f.do(t, admin, http.MethodPost, "/v1/delivery/send", httpdto.DeliverRequest{
		ConversationID: conv.ID.String(),
		MessageID:      messageID.String(),
		Content:        "later",
	}, &out)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, out.Queued)
	assert.Equal(t, messageID, f.engine.last().ID)

	rec = f.do(t, customer, http.MethodPost, "/v1/delivery/send", httpdto.DeliverRequest{
		ConversationID: conv.ID.String(),
		Content:        "not mine to send",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var queues httpdto.QueuesResponse
	f.do(t, admin, http.MethodGet, "/v1/delivery/queues", nil, &queues)
	assert.True(t, queues.Online)
}

func TestFeatureFlagRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)

	rec := f.do(t, admin, http.MethodPut, "/v1/flags/teleport", map[string]bool{"enabled": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, admin, http.MethodPut, "/v1/flags/fallback_sms", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var snap map[string]bool
	rec = f.do(t, admin, http.MethodPut, "/v1/flags/fallback_sms", map[string]bool{"enabled": true}, &snap)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, snap["fallback_sms"])
	assert.True(t, snap["fallback_email"])
	assert.False(t, snap["retry_queue"])
}

func TestPresenceVisibility(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, "alice", user.RoleAdmin)
	customer := f.user(t, "bob", user.RoleCustomer)

	var status bookredis.PresenceStatus
	rec := f.do(t, customer, http.MethodGet, "/v1/presence/"+customer.ID.String(), nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, status.IsOnline)

	rec = f.do(t, customer, http.MethodGet, "/v1/presence/"+admin.ID.String(), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.presence.SetOnline(context.Background(), customer.ID.String()))
	f.do(t, admin, http.MethodGet, "/v1/presence/"+customer.ID.String(), nil, &status)
	assert.True(t, status.IsOnline)

	var admins []httpdto.UserResponse
	f.do(t, admin, http.MethodGet, "/v1/admins", nil, &admins)
	require.Len(t, admins, 1)
	assert.Equal(t, admin.ID, admins[0].ID)

	rec = f.do(t, customer, http.MethodGet, "/v1/admins", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotificationRoutes(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", user.RoleAdmin)
	bob := f.user(t, "bob", user.RoleAdmin)

	urgent := notification.Notification{RecipientID: alice.ID, Kind: notification.KindUrgentMessage, Title: "Urgent message", RequiresAck: true}
	plain := notification.Notification{RecipientID: alice.ID, Kind: notification.KindNewMessage, Title: "New message"}
	require.NoError(t, f.db.Create(&urgent).Error)
	require.NoError(t, f.db.Create(&plain).Error)

	var items []notification.Notification
	rec := f.do(t, alice, http.MethodGet, "/v1/notifications", nil, &items)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, items, 2)

	rec = f.do(t, bob, http.MethodPost, "/v1/notifications/"+plain.ID.String()+"/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, alice, http.MethodPost, "/v1/notifications/"+plain.ID.String()+"/read", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.do(t, alice, http.MethodGet, "/v1/notifications?unread=true", nil, &items)
	require.Len(t, items, 1)
	assert.Equal(t, urgent.ID, items[0].ID)

	rec = f.do(t, alice, http.MethodPost, "/v1/notifications/"+urgent.ID.String()+"/ack", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var unread []notification.Notification
	f.do(t, alice, http.MethodGet, "/v1/notifications?unread=true", nil, &unread)
	assert.Empty(t, unread)

	var stored notification.Notification
	require.NoError(t, f.db.First(&stored, "id = ?", urgent.ID).Error)
	assert.NotNil(t, stored.AcknowledgedAt)

	rec = f.do(t, alice, http.MethodPost, "/v1/notifications/not-a-uuid/ack", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
