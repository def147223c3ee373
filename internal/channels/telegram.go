package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookdesk/pkg/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const ParseModeHTML = "HTML"

// TelegramClient talks to the Bot API.
type TelegramClient struct {
	httpClient *resty.Client
	token      string
	log        *logger.Logger
}

func NewTelegramClient(baseURL, token string, log *logger.Logger) *TelegramClient {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	return &TelegramClient{
		httpClient: client,
		token:      token,
		log:        logger.OrNop(log).Named("telegram"),
	}
}

func (c *TelegramClient) Configured() bool {
	return c != nil && c.token != ""
}

// BaseURL is checked by the connectivity monitor.
func (c *TelegramClient) BaseURL() string {
	return c.httpClient.BaseURL
}

func (c *TelegramClient) call(ctx context.Context, method string, payload interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("telegram: bot token not configured")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(fmt.Sprintf("/bot%s/%s", c.token, method))
	if err != nil {
		c.log.Warn("telegram request failed", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	var result telegramResponse
	_ = json.Unmarshal(resp.Body(), &result)
	if resp.IsError() || !result.OK {
		httpErr := newHTTPError(Telegram, resp)
		if httpErr.StatusCode < 400 {
			httpErr.StatusCode = 400
		}
		c.log.Warn("telegram api error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode()),
			zap.String("description", result.Description))
		return httpErr
	}
	return nil
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboard `json:"reply_markup,omitempty"`
}

func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text, parseMode string, keyboard *InlineKeyboard) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: keyboard,
	})
}

func (c *TelegramClient) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": queryID,
		"text":              text,
	})
}

func (c *TelegramClient) AnswerInlineQuery(ctx context.Context, queryID string, results []InlineQueryResultArticle, cacheTime int) error {
	if results == nil {
		results = []InlineQueryResultArticle{}
	}
	return c.call(ctx, "answerInlineQuery", map[string]interface{}{
		"inline_query_id": queryID,
		"results":         results,
		"cache_time":      cacheTime,
		"is_personal":     true,
	})
}

// TelegramSender delivers conversation messages to a customer's Telegram chat.
type TelegramSender struct {
	client *TelegramClient
}

func NewTelegramSender(client *TelegramClient) *TelegramSender {
	return &TelegramSender{client: client}
}

func (s *TelegramSender) Name() Name { return Telegram }

func (s *TelegramSender) Available(r Recipient) bool {
	return s.client.Configured() && r.TelegramChatID != ""
}

func (s *TelegramSender) Send(ctx context.Context, env Envelope) error {
	text := env.Body
	for _, a := range env.Attachments {
		text += "\n" + a.URL
	}
	return s.client.SendMessage(ctx, env.Recipient.TelegramChatID, text, env.ParseMode, env.Keyboard)
}

// FormatChatID renders a numeric Telegram chat id.
func FormatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
