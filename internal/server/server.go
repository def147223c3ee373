package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bookdesk/config"
	"bookdesk/internal/handler"
	"bookdesk/internal/middleware"
	"bookdesk/internal/redis"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	"bookdesk/internal/websocket"
	"bookdesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Delivery     *handler.DeliveryHandler
	Notification *handler.NotificationHandler
	FeatureFlag  *handler.FeatureFlagHandler
	User         *handler.UserHandler
	Attachment   *handler.AttachmentHandler
	// Telegram is nil when no bot is configured.
	Telegram  *handler.TelegramHandler
	WebSocket *websocket.Handler
}

// Dependencies are the non-handler pieces the routes need.
type Dependencies struct {
	Auth    *services.AuthService
	Limiter *redis.RateLimiter
	Health  func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: logger.OrNop(l).Named("http"),
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.PublicURL))
	s.engine.Use(middleware.MetricsMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if handlers.Telegram != nil {
		s.engine.POST("/v1/telegram/webhook", middleware.WebhookRateLimitMiddleware(deps.Limiter), handlers.Telegram.Webhook)
	}
	if handlers.WebSocket != nil {
		// The websocket handshake carries its token in the query string.
		s.engine.GET("/v1/ws", handlers.WebSocket.Connect)
	}

	api := s.engine.Group("/v1", middleware.AuthMiddleware(deps.Auth))
	{
		api.GET("/me", handlers.User.Me)
		api.GET("/presence/:userID", handlers.User.Presence)

		api.POST("/conversations", handlers.Conversation.Create)
		api.GET("/conversations", handlers.Conversation.List)
		api.GET("/conversations/:id", handlers.Conversation.GetByID)
		api.POST("/conversations/:id/read", handlers.Conversation.MarkRead)
		api.POST("/conversations/:id/archive", handlers.Conversation.Archive)
		api.GET("/conversations/:id/messages", handlers.Message.List)
		api.POST("/conversations/:id/messages", middleware.MessageRateLimitMiddleware(deps.Limiter), handlers.Message.Send)

		api.GET("/messages/search", handlers.Message.Search)
		api.DELETE("/messages/:messageId", handlers.Message.Delete)

		api.GET("/notifications", handlers.Notification.List)
		api.POST("/notifications/:id/read", handlers.Notification.MarkRead)
		api.POST("/notifications/:id/ack", handlers.Notification.Acknowledge)

		if handlers.Attachment != nil {
			api.POST("/attachments/presign", handlers.Attachment.Presign)
		}
	}

	admin := api.Group("", middleware.RequireAdmin())
	{
		admin.GET("/admins", handlers.User.ListAdmins)

		admin.POST("/delivery/send", middleware.MessageRateLimitMiddleware(deps.Limiter), handlers.Delivery.Send)
		admin.GET("/delivery/queues", handlers.Delivery.Queues)

		admin.GET("/flags", handlers.FeatureFlag.List)
		admin.PUT("/flags/:name", handlers.FeatureFlag.Set)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Infof("Shutdown requested, draining connections for up to 5 seconds")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error in the graceful shutdown of the server: %s", err)
		return err
	}
	s.logger.Infof("Server stopped gracefully")
	return nil
}
