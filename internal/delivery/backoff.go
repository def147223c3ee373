package delivery

import (
	"time"

	"bookdesk/internal/channels"
)

type Config struct {
	Primary       channels.Name
	RetryInterval time.Duration
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetries    int
	// RateLimitRetryAfter applies when a rate limited channel names no delay.
	RateLimitRetryAfter time.Duration
	// DeliveredTTL bounds how long delivered idempotency keys are remembered.
	DeliveredTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Primary:             channels.InApp,
		RetryInterval:       5 * time.Second,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		MaxRetries:          3,
		RateLimitRetryAfter: DefaultRetryAfter,
		DeliveredTTL:        24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Primary == "" {
		c.Primary = d.Primary
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RateLimitRetryAfter <= 0 {
		c.RateLimitRetryAfter = d.RateLimitRetryAfter
	}
	if c.DeliveredTTL <= 0 {
		c.DeliveredTTL = d.DeliveredTTL
	}
	return c
}

// Backoff returns min(base * 2^retries, max).
func Backoff(base, max time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	delay := base
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
