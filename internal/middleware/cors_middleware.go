package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows the admin panel origin to call the API. An empty
// origin allows any origin.
func CORSMiddleware(origin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	if origin == "" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{origin}
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
