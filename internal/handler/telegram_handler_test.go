package handler

import (
	"net/http"
	"testing"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/transport/httpdto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) telegramAdmin(t *testing.T, name, chatID string) *user.User {
	t.Helper()
	u := &user.User{DisplayName: name, Role: user.RoleAdmin, TelegramChatID: chatID, TelegramEnabled: true}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func customerUpdate(updateID, messageID int64, text string) channels.Update {
	return channels.Update{
		UpdateID: updateID,
		Message: &channels.TelegramMessage{
			MessageID: messageID,
			From:      &channels.TelegramUser{ID: 555, FirstName: "Ann", LastName: "Reader"},
			Chat:      channels.TelegramChat{ID: 555, Type: "private"},
			Text:      text,
		},
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	f := newFixture(t)

	rec := f.webhook(t, "", customerUpdate(1, 1, "hi"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.webhook(t, "wrong", customerUpdate(1, 1, "hi"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var count int64
	require.NoError(t, f.db.Model(&message.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookFilesCustomerMessageOnce(t *testing.T) {
	f := newFixture(t)
	admin := f.telegramAdmin(t, "alice", "900")

	update := customerUpdate(10, 42, "Where is my order?")
	for i := 0; i < 2; i++ {
		rec := f.webhook(t, webhookSecret, update)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := f.webhook(t, webhookSecret, customerUpdate(11, 43, "Order 1234"))
	require.Equal(t, http.StatusOK, rec.Code)

	var convs []httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, "/v1/conversations", nil, &convs)
	require.Len(t, convs, 1)
	conv := convs[0]
	assert.Equal(t, 2, conv.Unread)
	require.NotNil(t, conv.Metadata.CustomerInfo)
	assert.Equal(t, "Ann Reader", conv.Metadata.CustomerInfo.Name)
	assert.Equal(t, "555", conv.Metadata.CustomerInfo.Telegram)

	var msgs []message.Message
	f.do(t, admin, http.MethodGet, "/v1/conversations/"+conv.ID.String()+"/messages?order=asc", nil, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Where is my order?", msgs[0].Content)
	assert.Equal(t, user.RoleCustomer, msgs[0].SenderRole)
	assert.Equal(t, user.TelegramUserID("555"), msgs[0].SenderID)
	// the customer's own message is never sent back out over Telegram
	assert.NotContains(t, msgs[0].DeliveryStatus, message.ChannelTelegram)
	assert.Equal(t, message.DeliveryDelivered, msgs[0].DeliveryStatus[message.ChannelInApp])
}

func TestWebhookIgnoresAdminChats(t *testing.T) {
	f := newFixture(t)
	admin := f.telegramAdmin(t, "alice", "900")

	rec := f.webhook(t, webhookSecret, channels.Update{
		UpdateID: 1,
		Message: &channels.TelegramMessage{
			MessageID: 1,
			From:      &channels.TelegramUser{ID: 900, FirstName: "Alice"},
			Chat:      channels.TelegramChat{ID: 900, Type: "private"},
			Text:      "testing",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var convs []httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, "/v1/conversations", nil, &convs)
	assert.Empty(t, convs)
}

func TestWebhookCallbackActions(t *testing.T) {
	f := newFixture(t)
	admin := f.telegramAdmin(t, "alice", "900")
	require.Equal(t, http.StatusOK, f.webhook(t, webhookSecret, customerUpdate(1, 1, "Hello")).Code)

	var convs []httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, "/v1/conversations", nil, &convs)
	require.Len(t, convs, 1)
	convID := convs[0].ID.String()

	callback := func(id string, from int64, data string) {
		rec := f.webhook(t, webhookSecret, channels.Update{
			UpdateID:      2,
			CallbackQuery: &channels.CallbackQuery{ID: id, From: channels.TelegramUser{ID: from}, Data: data},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	callback("q1", 900, "read:"+convID)
	callback("q2", 900, "shred:"+convID)
	callback("q3", 555, "read:"+convID)
	callback("q4", 900, "mute:"+convID)

	assert.Equal(t, "Marked as read", f.bot.callbacks["q1"])
	assert.Equal(t, "Unknown action", f.bot.callbacks["q2"])
	assert.Equal(t, "Not allowed", f.bot.callbacks["q3"])
	assert.Equal(t, "Conversation muted", f.bot.callbacks["q4"])

	var conv httpdto.ConversationResponse
	f.do(t, admin, http.MethodGet, "/v1/conversations/"+convID, nil, &conv)
	assert.Equal(t, 0, conv.Unread)
}

func TestWebhookInlineQuery(t *testing.T) {
	f := newFixture(t)
	f.telegramAdmin(t, "alice", "900")
	require.Equal(t, http.StatusOK, f.webhook(t, webhookSecret, customerUpdate(1, 1, "Is <Dune> in stock?")).Code)

	inline := func(id string, from int64, query string) []channels.InlineQueryResultArticle {
		rec := f.webhook(t, webhookSecret, channels.Update{
			UpdateID:    3,
			InlineQuery: &channels.InlineQuery{ID: id, From: channels.TelegramUser{ID: from}, Query: query},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		return f.bot.inline[id]
	}

	results := inline("i1", 900, "ann")
	require.Len(t, results, 1)
	assert.Equal(t, "Ann Reader", results[0].Title)
	assert.Contains(t, results[0].InputMessageContent.MessageText, "Is &lt;Dune&gt; in stock?")
	require.NotNil(t, results[0].ReplyMarkup)
	assert.Contains(t, results[0].ReplyMarkup.InlineKeyboard[0][0].URL, "https://shop.example/admin/messages/")

	assert.Len(t, inline("i2", 900, "dune"), 1)
	assert.Empty(t, inline("i3", 900, "tolkien"))
	assert.Empty(t, inline("i4", 555, "ann"))
}
