package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MuteStore records conversations an admin silenced from Telegram. A mute
// expires on its own.
type MuteStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMuteStore(client *redis.Client, ttl time.Duration) *MuteStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &MuteStore{client: client, ttl: ttl}
}

func muteKey(adminID, conversationID uuid.UUID) string {
	return fmt.Sprintf("mute:%s:%s", adminID, conversationID)
}

func (s *MuteStore) Mute(ctx context.Context, adminID, conversationID uuid.UUID) error {
	return s.client.Set(ctx, muteKey(adminID, conversationID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

func (s *MuteStore) IsMuted(ctx context.Context, adminID, conversationID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, muteKey(adminID, conversationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
