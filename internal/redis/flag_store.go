package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const featureFlagKeyPrefix = "featureflag:"

// FlagStore persists feature flags as one key per flag ("true"/"false").
type FlagStore struct {
	client *redis.Client
}

func NewFlagStore(client *redis.Client) *FlagStore {
	return &FlagStore{client: client}
}

// Load returns the stored values for the given flags. Flags never written are
// absent from the result.
func (s *FlagStore) Load(ctx context.Context, names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	if len(names) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(names))
	for _, name := range names {
		cmds[name] = pipe.Get(ctx, featureFlagKeyPrefix+name)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for name, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		if v, err := strconv.ParseBool(raw); err == nil {
			out[name] = v
		}
	}
	return out, nil
}

func (s *FlagStore) Save(ctx context.Context, name string, enabled bool) error {
	return s.client.Set(ctx, featureFlagKeyPrefix+name, strconv.FormatBool(enabled), 0).Err()
}
