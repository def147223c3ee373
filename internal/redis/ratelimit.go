package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - ratelimit:{user_id}:messages - per-minute message sends
// - ratelimit:{source}:webhook - per-minute Telegram webhook calls

type RateLimitConfig struct {
	MessageLimit  int
	MessageWindow time.Duration
	WebhookLimit  int
	WebhookWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessageLimit:  60,
		MessageWindow: 60 * time.Second,
		WebhookLimit:  600,
		WebhookWindow: 60 * time.Second,
	}
}

type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

// NewRateLimiter fills unset limits from DefaultRateLimitConfig.
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.MessageLimit <= 0 {
		config.MessageLimit = def.MessageLimit
	}
	if config.MessageWindow <= 0 {
		config.MessageWindow = def.MessageWindow
	}
	if config.WebhookLimit <= 0 {
		config.WebhookLimit = def.WebhookLimit
	}
	if config.WebhookWindow <= 0 {
		config.WebhookWindow = def.WebhookWindow
	}
	return &RateLimiter{
		client: client,
		config: config,
	}
}

func (r *RateLimiter) AllowMessage(ctx context.Context, userID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:messages", userID)
	return r.checkLimit(ctx, key, r.config.MessageLimit, r.config.MessageWindow)
}

func (r *RateLimiter) AllowWebhook(ctx context.Context, source string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:webhook", source)
	return r.checkLimit(ctx, key, r.config.WebhookLimit, r.config.WebhookWindow)
}

// fixed window counter, incremented only while under the limit
var rateLimitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	end
	return {0, 0, ttl}
`)

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := rateLimitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	allowed, _ := resultSlice[0].(int64)
	remaining, _ := resultSlice[1].(int64)
	ttl, _ := resultSlice[2].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttl) * time.Second,
		Limit:     limit,
	}, nil
}

func (r *RateLimiter) ResetUser(ctx context.Context, userID string) error {
	return r.client.Del(ctx, fmt.Sprintf("ratelimit:%s:messages", userID)).Err()
}
