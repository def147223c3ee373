package middleware

import (
	"context"
	"net/http"
	"strconv"

	"bookdesk/internal/redis"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// MessageRateLimitMiddleware limits message sends per caller. Apply after
// AuthMiddleware.
func MessageRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return limit(limiter, "message rate limit exceeded", func(c *gin.Context) (string, bool) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			return "", false
		}
		return userID.String(), true
	}, limiter.AllowMessage)
}

// WebhookRateLimitMiddleware limits inbound webhook calls per source address.
func WebhookRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return limit(limiter, "webhook rate limit exceeded", func(c *gin.Context) (string, bool) {
		return c.ClientIP(), true
	}, limiter.AllowWebhook)
}

func limit(limiter *redis.RateLimiter, message string, key func(*gin.Context) (string, bool), allow func(ctx context.Context, key string) (*redis.RateLimitResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		k, ok := key(c)
		if !ok {
			c.Next()
			return
		}

		result, err := allow(c.Request.Context(), k)
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "UNKNOWN_ERROR"))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(message, "RATE_LIMIT_ERROR"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
