package middleware

import (
	"net/http"

	"bookdesk/internal/transport/httpdto"
	"bookdesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders errors attached with c.Error. Handlers that already
// wrote a response are left alone.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	log := logger.OrNop(l)
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status, body := httpdto.ErrorFrom(err)
		if status >= http.StatusInternalServerError {
			log.Ctx(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(status, body)
	}
}
