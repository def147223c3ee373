package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

var (
	client     *redis.Client
	clientOnce sync.Once
)

// Initialize creates the process wide client. Only the first call has an effect.
func Initialize(cfg Config) {
	clientOnce.Do(func() {
		client = NewClient(cfg)
	})
}

// GetClient returns the process wide client.
// Panics if Initialize() has not been called.
func GetClient() *redis.Client {
	if client == nil {
		panic("redis client not initialized. Call Initialize() first")
	}
	return client
}

// NewClient creates a standalone client, used by tests against miniredis.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the connection, used by the health endpoint and the
// connectivity monitor.
func Ping(ctx context.Context, c *redis.Client) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
