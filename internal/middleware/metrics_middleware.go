package middleware

import (
	"strconv"
	"time"

	"bookdesk/internal/observability"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		observability.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		observability.HTTPLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
