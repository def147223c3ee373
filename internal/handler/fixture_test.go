package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/commands"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/featureflags"
	"bookdesk/internal/middleware"
	"bookdesk/internal/proxy"
	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const webhookSecret = "s3cret"

type fakeBot struct {
	mu        sync.Mutex
	callbacks map[string]string
	inline    map[string][]channels.InlineQueryResultArticle
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		callbacks: make(map[string]string),
		inline:    make(map[string][]channels.InlineQueryResultArticle),
	}
}

func (b *fakeBot) AnswerCallbackQuery(_ context.Context, queryID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[queryID] = text
	return nil
}

func (b *fakeBot) AnswerInlineQuery(_ context.Context, queryID string, results []channels.InlineQueryResultArticle, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inline[queryID] = results
	return nil
}

type fixture struct {
	db            *gorm.DB
	auth          *services.AuthService
	users         *services.UserService
	conversations *services.ConversationService
	messages      *services.MessageService
	flags         *featureflags.Manager
	presence      *bookredis.PresenceStore
	engine        *stubEngine
	bot           *fakeBot
	router        *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	feed := testutil.NewLocalBus(64)

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	userRepo := repository.NewUserRepository(db)
	access := proxy.NewAccessControl(convRepo, userRepo)

	f := &fixture{
		db:       db,
		auth:     services.NewAuthService("test-secret", time.Hour),
		users:    services.NewUserService(userRepo, nil, nil),
		flags:    featureflags.NewManager("fallback_email=on", nil),
		presence: bookredis.NewPresenceStore(rdb, feed, time.Minute),
		engine:   &stubEngine{online: true},
		bot:      newFakeBot(),
	}
	f.conversations = services.NewConversationService(db, convRepo, outboxRepo, f.users, access, feed, nil)
	f.messages = services.NewMessageService(db, msgRepo, convRepo, outboxRepo, access, feed, nil)

	bus := commands.NewBus(access)
	services.RegisterCallbackHandlers(bus, f.messages, bookredis.NewMuteStore(rdb, time.Hour))

	conversations := NewConversationHandler(f.conversations, f.messages)
	messages := NewMessageHandler(f.messages)
	deliveries := NewDeliveryHandler(f.engine, f.conversations)
	flags := NewFeatureFlagHandler(f.flags)
	users := NewUserHandler(f.users, f.presence)
	notifications := NewNotificationHandler(repository.NewNotificationRepository(db))
	telegram := NewTelegramHandler(webhookSecret, "https://shop.example", f.bot, f.users, f.conversations, f.messages, bus, nil)

	r := gin.New()
	r.Use(middleware.ErrorHandler(nil))
	r.POST("/telegram/webhook", telegram.Webhook)

	api := r.Group("/v1", middleware.AuthMiddleware(f.auth))
	api.GET("/me", users.Me)
	api.GET("/presence/:userID", users.Presence)
	api.POST("/conversations", conversations.Create)
	api.GET("/conversations", conversations.List)
	api.GET("/conversations/:id", conversations.GetByID)
	api.POST("/conversations/:id/read", conversations.MarkRead)
	api.POST("/conversations/:id/archive", conversations.Archive)
	api.GET("/conversations/:id/messages", messages.List)
	api.POST("/conversations/:id/messages", messages.Send)
	api.DELETE("/messages/:messageId", messages.Delete)
	api.GET("/messages/search", messages.Search)
	api.GET("/notifications", notifications.List)
	api.POST("/notifications/:id/read", notifications.MarkRead)
	api.POST("/notifications/:id/ack", notifications.Acknowledge)

	admin := api.Group("", middleware.RequireAdmin())
	admin.GET("/admins", users.ListAdmins)
	admin.POST("/delivery/send", deliveries.Send)
	admin.GET("/delivery/queues", deliveries.Queues)
	admin.GET("/flags", flags.List)
	admin.PUT("/flags/:name", flags.Set)

	f.router = r
	return f
}

func (f *fixture) user(t *testing.T, name string, role user.Role) *user.User {
	t.Helper()
	u := &user.User{DisplayName: name, Role: role, Email: name + "@example.com"}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) token(t *testing.T, u *user.User) string {
	t.Helper()
	tok, err := f.auth.IssueAccessToken(u.ID, u.Role)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with u's token (no token for a nil user) and decodes
// the response envelope's data into out when given.
func (f *fixture) do(t *testing.T, u *user.User, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, u))
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if out != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
		// Empty lists are omitted from the envelope.
		if len(env.Data) > 0 {
			require.NoError(t, json.Unmarshal(env.Data, out), rec.Body.String())
		}
	}
	return rec
}

func (f *fixture) webhook(t *testing.T, secret string, update channels.Update) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(TelegramSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}
