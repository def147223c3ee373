package services

import (
	"context"
	"strings"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/user"
	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/repository"
	bookdesk_errors "bookdesk/pkg/errors"
	"bookdesk/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserService resolves users and admins, reading through the Redis cache
// when one is configured.
type UserService struct {
	repo  repository.UserRepository
	cache *bookredis.CacheStore
	log   *logger.Logger
}

func NewUserService(repo repository.UserRepository, cache *bookredis.CacheStore, log *logger.Logger) *UserService {
	return &UserService{repo: repo, cache: cache, log: logger.OrNop(log).Named("users")}
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	if s.cache != nil {
		cached, err := s.cache.GetUser(ctx, id)
		if err != nil {
			s.log.Warn("user cache read failed", zap.String("user_id", id.String()), zap.Error(err))
		} else if cached != nil {
			u := cached.ToEntity()
			return &u, nil
		}
	}

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetUser(ctx, bookredis.NewUserCache(u))
	}
	return u, nil
}

func (s *UserService) ListAdmins(ctx context.Context) ([]user.User, error) {
	if s.cache != nil {
		cached, err := s.cache.GetAdmins(ctx)
		if err != nil {
			s.log.Warn("admin cache read failed", zap.Error(err))
		} else if cached != nil {
			admins := make([]user.User, 0, len(cached))
			for i := range cached {
				admins = append(admins, cached[i].ToEntity())
			}
			return admins, nil
		}
	}

	admins, err := s.repo.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		entries := make([]bookredis.UserCache, 0, len(admins))
		for i := range admins {
			entries = append(entries, *bookredis.NewUserCache(&admins[i]))
		}
		_ = s.cache.SetAdmins(ctx, entries)
	}
	return admins, nil
}

// UpsertTelegramCustomer finds or creates the customer behind a Telegram
// chat. The user id is derived from the chat id so repeat contacts land on
// the same row.
func (s *UserService) UpsertTelegramCustomer(ctx context.Context, chatID, displayName string) (*user.User, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, bookdesk_errors.Validation("telegram chat id is required")
	}
	if existing, err := s.repo.FindByTelegramChatID(ctx, chatID); err == nil {
		return existing, nil
	} else if bookdesk_errors.CodeOf(err) != bookdesk_errors.CodeNotFound {
		return nil, err
	}

	if displayName == "" {
		displayName = "Telegram " + chatID
	}
	u := &user.User{
		ID:              user.TelegramUserID(chatID),
		DisplayName:     displayName,
		Role:            user.RoleCustomer,
		TelegramChatID:  chatID,
		TelegramEnabled: true,
	}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateUser(ctx, u.ID)
	}
	s.log.Info("telegram customer registered", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Recipient builds the delivery address card for a user.
func (s *UserService) Recipient(ctx context.Context, id uuid.UUID) (channels.Recipient, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return channels.Recipient{}, err
	}
	return RecipientFor(u), nil
}

func RecipientFor(u *user.User) channels.Recipient {
	r := channels.Recipient{
		UserID: u.ID,
		Name:   u.DisplayName,
		Email:  u.Email,
		Phone:  u.Phone,
	}
	if u.TelegramEnabled {
		r.TelegramChatID = u.TelegramChatID
	}
	return r
}

// AdminByTelegramChat resolves the admin linked to a Telegram chat. Chats of
// customers or unknown chats are rejected.
func (s *UserService) AdminByTelegramChat(ctx context.Context, chatID string) (*user.User, error) {
	u, err := s.repo.FindByTelegramChatID(ctx, chatID)
	if err != nil {
		if bookdesk_errors.CodeOf(err) == bookdesk_errors.CodeNotFound {
			return nil, bookdesk_errors.Forbidden("telegram chat is not linked to an admin")
		}
		return nil, err
	}
	if u.Role != user.RoleAdmin {
		return nil, bookdesk_errors.Forbidden("telegram chat is not linked to an admin")
	}
	return u, nil
}
