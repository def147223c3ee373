package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/commands"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/repository"

	"github.com/google/uuid"
)

// Sink renders an alert for one surface and delivers it to the given admins.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a Alert, admins []user.User) error
}

// InAppSink stores one notification row per admin.
type InAppSink struct {
	repo repository.NotificationRepository
}

func NewInAppSink(repo repository.NotificationRepository) *InAppSink {
	return &InAppSink{repo: repo}
}

func (s *InAppSink) Name() string { return "in_app" }

func (s *InAppSink) Deliver(ctx context.Context, a Alert, admins []user.User) error {
	items := make([]notification.Notification, 0, len(admins))
	for _, admin := range admins {
		items = append(items, notification.Notification{
			RecipientID: admin.ID,
			Kind:        a.Kind,
			Title:       a.Title,
			Body:        a.Body,
			Data:        a.data(),
			Actions:     actionsFor(a),
			RequiresAck: a.RequiresAck(),
			CreatedAt:   a.CreatedAt,
		})
	}
	return s.repo.CreateBatch(ctx, items)
}

func actionsFor(a Alert) []notification.Action {
	if a.ConversationID == uuid.Nil {
		return nil
	}
	return []notification.Action{notification.ActionOpenConversation, notification.ActionMarkRead}
}

// TelegramMessenger is the slice of the Telegram Bot API the sink needs.
type TelegramMessenger interface {
	Configured() bool
	SendMessage(ctx context.Context, chatID, text, parseMode string, keyboard *channels.InlineKeyboard) error
}

// MuteChecker reports conversations an admin muted from Telegram.
type MuteChecker interface {
	IsMuted(ctx context.Context, adminID, conversationID uuid.UUID) (bool, error)
}

// TelegramSink alerts every admin with Telegram enabled. Delivery notices
// are not sent to Telegram.
type TelegramSink struct {
	bot       TelegramMessenger
	mutes     MuteChecker
	publicURL string
}

func NewTelegramSink(bot TelegramMessenger, mutes MuteChecker, publicURL string) *TelegramSink {
	return &TelegramSink{bot: bot, mutes: mutes, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, a Alert, admins []user.User) error {
	if a.Notice() || s.bot == nil || !s.bot.Configured() {
		return nil
	}
	text := s.render(a)
	keyboard := s.keyboard(a)

	var errs []string
	for _, admin := range admins {
		if !admin.TelegramEnabled || admin.TelegramChatID == "" {
			continue
		}
		if s.mutes != nil && a.ConversationID != uuid.Nil {
			muted, err := s.mutes.IsMuted(ctx, admin.ID, a.ConversationID)
			if err == nil && muted {
				continue
			}
		}
		if err := s.bot.SendMessage(ctx, admin.TelegramChatID, text, "HTML", keyboard); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", admin.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telegram alert failed for %d admins: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (s *TelegramSink) render(a Alert) string {
	var b strings.Builder
	if a.Urgent {
		b.WriteString("🚨 ")
	} else {
		b.WriteString("💬 ")
	}
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(a.Title))
	b.WriteString("</b>\n\n")
	if a.Body != "" {
		b.WriteString(html.EscapeString(a.Body))
		b.WriteString("\n")
	}
	if a.CustomerEmail != "" {
		b.WriteString("\n<b>Email:</b> ")
		b.WriteString(html.EscapeString(a.CustomerEmail))
	}
	if a.OrderID != "" {
		b.WriteString("\n<b>Order:</b> <code>")
		b.WriteString(html.EscapeString(a.OrderID))
		b.WriteString("</code>")
	}
	if a.Urgent {
		b.WriteString("\n\n<i>Requires attention</i>")
	}
	return b.String()
}

func (s *TelegramSink) keyboard(a Alert) *channels.InlineKeyboard {
	if a.ConversationID == uuid.Nil {
		return nil
	}
	return &channels.InlineKeyboard{InlineKeyboard: [][]channels.InlineKeyboardButton{
		{{Text: "Open Conversation", URL: s.publicURL + "/admin/messages/" + a.ConversationID.String()}},
		{
			{Text: "Mark as Read", CallbackData: commands.CallbackData(commands.ActionMarkRead, a.ConversationID)},
			{Text: "Mute", CallbackData: commands.CallbackData(commands.ActionMute, a.ConversationID)},
		},
	}}
}

// Pusher delivers a frame to every live session of a user.
type Pusher interface {
	BroadcastToUser(userID string, payload []byte)
}

// BrowserPush is the frame sent to admin browser sessions.
type BrowserPush struct {
	Type               string            `json:"type"`
	Kind               notification.Kind `json:"kind"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Tag                string            `json:"tag"`
	RequireInteraction bool              `json:"requireInteraction"`
	AutoDismissMs      int64             `json:"autoDismissMs"`
	Data               map[string]string `json:"data,omitempty"`
}

// BrowserSink pushes alerts over the admin websocket. Alerts for the same
// conversation share a tag so the browser replaces rather than stacks them.
type BrowserSink struct {
	pusher      Pusher
	autoDismiss time.Duration
}

func NewBrowserSink(pusher Pusher, autoDismiss time.Duration) *BrowserSink {
	if autoDismiss <= 0 {
		autoDismiss = 10 * time.Second
	}
	return &BrowserSink{pusher: pusher, autoDismiss: autoDismiss}
}

func (s *BrowserSink) Name() string { return "browser" }

func (s *BrowserSink) Deliver(_ context.Context, a Alert, admins []user.User) error {
	payload, err := json.Marshal(s.frame(a))
	if err != nil {
		return err
	}
	for _, admin := range admins {
		s.pusher.BroadcastToUser(admin.ID.String(), payload)
	}
	return nil
}

func (s *BrowserSink) frame(a Alert) BrowserPush {
	push := BrowserPush{
		Type:  "notification",
		Kind:  a.Kind,
		Title: a.Title,
		Body:  a.Body,
		Tag:   tagFor(a),
		Data:  a.data(),
	}
	if a.RequiresAck() {
		push.RequireInteraction = true
	} else {
		push.AutoDismissMs = s.autoDismiss.Milliseconds()
	}
	return push
}

func tagFor(a Alert) string {
	if a.ConversationID != uuid.Nil {
		return "conversation-" + a.ConversationID.String()
	}
	return "notice-" + string(a.Kind)
}
