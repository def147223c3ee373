package middleware

import (
	"context"

	"bookdesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// RequestIDMiddleware tags the request context with an id for the logger.
// Incoming ids longer than 64 bytes are replaced.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(string(logger.RequestIdKey), id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIdKey, id))
		c.Next()
	}
}
