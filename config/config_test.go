package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "inApp", cfg.PrimaryChannel)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RateLimitRetryAfter)
	assert.Equal(t, 5*time.Minute, cfg.NotificationStaleAfter)
	assert.Equal(t, 10*time.Second, cfg.BrowserAutoDismiss)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DELIVERY_MAX_RETRIES", "7")
	t.Setenv("DELIVERY_RETRY_INTERVAL", "250ms")
	t.Setenv("DELIVERY_RETRY_MAX_DELAY", "45000")
	t.Setenv("PUBLIC_URL", "https://admin.example.com/")

	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval)
	assert.Equal(t, 45*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, "https://admin.example.com", cfg.PublicURL)
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	assert.Equal(t, 100, getEnvAsInt("OUTBOX_BATCH_SIZE", 100))
}
