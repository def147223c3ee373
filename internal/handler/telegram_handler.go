package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"bookdesk/internal/channels"
	"bookdesk/internal/commands"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	bookdesk_errors "bookdesk/pkg/errors"
	"bookdesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	inlineResultLimit = 20
)

// TelegramResponder answers the interactive updates a webhook receives.
type TelegramResponder interface {
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
	AnswerInlineQuery(ctx context.Context, queryID string, results []channels.InlineQueryResultArticle, cacheTime int) error
}

type TelegramHandler struct {
	secret        string
	publicURL     string
	bot           TelegramResponder
	users         *services.UserService
	conversations *services.ConversationService
	messages      *services.MessageService
	bus           *commands.Bus
	log           *logger.Logger
}

func NewTelegramHandler(secret, publicURL string, bot TelegramResponder, users *services.UserService, conversations *services.ConversationService, messages *services.MessageService, bus *commands.Bus, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{
		secret:        secret,
		publicURL:     strings.TrimRight(publicURL, "/"),
		bot:           bot,
		users:         users,
		conversations: conversations,
		messages:      messages,
		bus:           bus,
		log:           logger.OrNop(log).Named("telegram_webhook"),
	}
}

// Webhook receives Bot API updates. Once the secret checked out the answer is
// always 200: Telegram redelivers anything else, and a failing update would
// block the ones behind it.
func (h *TelegramHandler) Webhook(c *gin.Context) {
	if !h.authorized(c.GetHeader(TelegramSecretHeader)) {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid webhook secret", string(bookdesk_errors.CodeAuthentication)))
		return
	}

	var update channels.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid update")
		return
	}

	ctx := c.Request.Context()
	log := h.log.Ctx(ctx).With(zap.Int64("update_id", update.UpdateID))

	var err error
	switch {
	case update.Message != nil:
		err = h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = h.handleCallback(ctx, update.CallbackQuery)
	case update.InlineQuery != nil:
		err = h.handleInlineQuery(ctx, update.InlineQuery)
	default:
		log.Debugf("ignoring update without a handled payload")
	}
	if err != nil {
		log.Warn("telegram update not processed", zap.Error(err))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(map[string]bool{"ok": true}))
}

// An empty configured secret rejects every request.
func (h *TelegramHandler) authorized(got string) bool {
	if h.secret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

// handleMessage files a customer's chat message into their support
// conversation. Messages from admin chats are not customer traffic.
func (h *TelegramHandler) handleMessage(ctx context.Context, msg *channels.TelegramMessage) error {
	if msg.From != nil && msg.From.IsBot {
		return nil
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chatID := channels.FormatChatID(msg.Chat.ID)
	if _, err := h.users.AdminByTelegramChat(ctx, chatID); err == nil {
		return nil
	} else if bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeAuthorization {
		return err
	}

	name := ""
	if msg.From != nil {
		name = msg.From.DisplayName()
	}
	customer, err := h.users.UpsertTelegramCustomer(ctx, chatID, name)
	if err != nil {
		return err
	}
	conv, err := h.conversations.FindOrCreateSupportConversation(ctx, customer)
	if err != nil {
		return err
	}

	// Redelivered updates map to the same message id and are stored once.
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("telegram:%s:%d", chatID, msg.MessageID)))
	_, err = h.messages.SendMessage(services.WithCaller(ctx, customer.ID, user.RoleCustomer), conv.ID, services.SendMessageInput{
		MessageID: &id,
		Content:   text,
		Type:      message.TypeText,
	})
	return err
}

func (h *TelegramHandler) handleCallback(ctx context.Context, q *channels.CallbackQuery) error {
	reply, err := h.runCallback(ctx, q)
	if answerErr := h.answerCallback(ctx, q.ID, reply); answerErr != nil {
		return errors.Join(err, answerErr)
	}
	return err
}

func (h *TelegramHandler) runCallback(ctx context.Context, q *channels.CallbackQuery) (string, error) {
	admin, err := h.users.AdminByTelegramChat(ctx, channels.FormatChatID(q.From.ID))
	if err != nil {
		return "Not allowed", err
	}
	cmd, err := commands.ParseCallback(q.Data, admin.ID)
	if err != nil {
		return "Unknown action", err
	}
	res, err := h.bus.Execute(services.WithCaller(ctx, admin.ID, admin.Role), cmd)
	if err != nil {
		return "Action failed", err
	}
	return res.Message, nil
}

func (h *TelegramHandler) answerCallback(ctx context.Context, queryID, text string) error {
	if h.bot == nil {
		return nil
	}
	return h.bot.AnswerCallbackQuery(ctx, queryID, text)
}

// handleInlineQuery lists the admin's active conversations whose customer,
// order or last message matches the query. Non-admins get no results.
func (h *TelegramHandler) handleInlineQuery(ctx context.Context, q *channels.InlineQuery) error {
	if h.bot == nil {
		return nil
	}
	results := []channels.InlineQueryResultArticle{}

	admin, err := h.users.AdminByTelegramChat(ctx, channels.FormatChatID(q.From.ID))
	if err == nil {
		active := true
		convs, listErr := h.conversations.GetConversations(services.WithCaller(ctx, admin.ID, admin.Role), repository.ConversationFilter{
			IsActive: &active,
		})
		if listErr != nil {
			return listErr
		}
		results = h.inlineResults(convs, q.Query)
	} else if bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeAuthorization {
		return err
	}
	return h.bot.AnswerInlineQuery(ctx, q.ID, results, 0)
}

func (h *TelegramHandler) inlineResults(convs []conversation.Conversation, query string) []channels.InlineQueryResultArticle {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]channels.InlineQueryResultArticle, 0, inlineResultLimit)
	for i := range convs {
		conv := &convs[i]
		if needle != "" && !matchesConversation(conv, needle) {
			continue
		}
		out = append(out, h.article(conv))
		if len(out) == inlineResultLimit {
			break
		}
	}
	return out
}

func matchesConversation(conv *conversation.Conversation, needle string) bool {
	for _, field := range []string{conv.CustomerName(), conv.CustomerEmail(), conv.OrderID, conv.LastMessage.Content} {
		if field != "" && strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func (h *TelegramHandler) article(conv *conversation.Conversation) channels.InlineQueryResultArticle {
	title := conv.CustomerName()
	if title == "" {
		title = "Conversation " + conv.ID.String()[:8]
	}
	if conv.OrderID != "" {
		title += " · order " + conv.OrderID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(title))
	if conv.LastMessage.Present() {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(conv.LastMessage.Content))
	}

	a := channels.InlineQueryResultArticle{
		Type:        "article",
		ID:          conv.ID.String(),
		Title:       title,
		Description: conv.LastMessage.Content,
		InputMessageContent: channels.InputTextMessageContent{
			MessageText: b.String(),
			ParseMode:   channels.ParseModeHTML,
		},
	}
	if h.publicURL != "" {
		a.ReplyMarkup = &channels.InlineKeyboard{InlineKeyboard: [][]channels.InlineKeyboardButton{{
			{Text: "Open conversation", URL: h.publicURL + "/admin/messages/" + conv.ID.String()},
		}}}
	}
	return a
}
