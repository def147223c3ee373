package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - user:{user_id} - contact card used for recipient resolution
// - users:admins - admin directory used by notification fan-out

const adminDirectoryKey = "users:admins"

type CacheConfig struct {
	UserTTL  time.Duration
	AdminTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL:  5 * time.Minute,
		AdminTTL: time.Minute,
	}
}

// CacheStore keeps read-mostly directory data out of the database hot path.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

// UserCache is the cached subset of a user row.
type UserCache struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	Role            user.Role `json:"role"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	TelegramChatID  string    `json:"telegram_chat_id,omitempty"`
	TelegramEnabled bool      `json:"telegram_enabled"`
}

func NewUserCache(u *user.User) *UserCache {
	return &UserCache{
		ID:              u.ID,
		DisplayName:     u.DisplayName,
		Role:            u.Role,
		Email:           u.Email,
		Phone:           u.Phone,
		TelegramChatID:  u.TelegramChatID,
		TelegramEnabled: u.TelegramEnabled,
	}
}

func (c *UserCache) ToEntity() user.User {
	return user.User{
		ID:              c.ID,
		DisplayName:     c.DisplayName,
		Role:            c.Role,
		Email:           c.Email,
		Phone:           c.Phone,
		TelegramChatID:  c.TelegramChatID,
		TelegramEnabled: c.TelegramEnabled,
	}
}

func userKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id.String())
}

// GetUser returns nil, nil on a cache miss.
func (c *CacheStore) GetUser(ctx context.Context, userID uuid.UUID) (*UserCache, error) {
	var u UserCache
	hit, err := c.get(ctx, userKey(userID), &u)
	if err != nil || !hit {
		return nil, err
	}
	return &u, nil
}

func (c *CacheStore) SetUser(ctx context.Context, u *UserCache) error {
	return c.set(ctx, userKey(u.ID), u, c.config.UserTTL)
}

// InvalidateUser also drops the admin directory, which may contain the user.
func (c *CacheStore) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, userKey(userID), adminDirectoryKey).Err()
}

// GetAdmins returns nil, nil on a cache miss.
func (c *CacheStore) GetAdmins(ctx context.Context) ([]UserCache, error) {
	var admins []UserCache
	hit, err := c.get(ctx, adminDirectoryKey, &admins)
	if err != nil || !hit {
		return nil, err
	}
	return admins, nil
}

func (c *CacheStore) SetAdmins(ctx context.Context, admins []UserCache) error {
	return c.set(ctx, adminDirectoryKey, admins, c.config.AdminTTL)
}

func (c *CacheStore) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheStore) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
