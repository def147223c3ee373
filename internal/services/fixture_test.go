package services

import (
	"context"
	"testing"
	"time"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/outbox"
	"bookdesk/internal/proxy"
	"bookdesk/internal/repository"
	"bookdesk/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db            *gorm.DB
	feed          *testutil.LocalBus
	processor     *outbox.Processor
	userRepo      repository.UserRepository
	users         *UserService
	access        *proxy.AccessControl
	conversations *ConversationService
	messages      *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	feed := testutil.NewLocalBus(64)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	userRepo := repository.NewUserRepository(db)

	users := NewUserService(userRepo, nil, nil)
	access := proxy.NewAccessControl(convRepo, userRepo)
	return &fixture{
		db:            db,
		feed:          feed,
		processor:     outbox.NewProcessor(outboxRepo, feed, nil, 100, time.Second, 3),
		userRepo:      userRepo,
		users:         users,
		access:        access,
		conversations: NewConversationService(db, convRepo, outboxRepo, users, access, feed, nil),
		messages:      NewMessageService(db, msgRepo, convRepo, outboxRepo, access, feed, nil),
	}
}

func (f *fixture) user(t *testing.T, name string, role user.Role) *user.User {
	t.Helper()
	u := &user.User{DisplayName: name, Role: role, Email: name + "@example.com"}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) conversation(t *testing.T, creator *user.User, participants ...*user.User) *conversation.Conversation {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}
	conv, err := f.conversations.CreateConversation(as(creator), ids, conversation.TypeCustomerSupport, conversation.Metadata{})
	require.NoError(t, err)
	return conv
}

func as(u *user.User) context.Context {
	return WithCaller(context.Background(), u.ID, u.Role)
}
