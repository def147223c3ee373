package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bookdesk/config"
	"bookdesk/internal/channels"
	"bookdesk/internal/commands"
	"bookdesk/internal/delivery"
	"bookdesk/internal/featureflags"
	"bookdesk/internal/handler"
	"bookdesk/internal/notifications"
	"bookdesk/internal/outbox"
	"bookdesk/internal/proxy"
	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/repository"
	"bookdesk/internal/server"
	"bookdesk/internal/services"
	"bookdesk/internal/storage"
	"bookdesk/internal/websocket"
	"bookdesk/pkg/database"
	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("api exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	bookredis.Initialize(bookredis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rdb := bookredis.GetClient()
	defer rdb.Close()
	if err := bookredis.Ping(ctx, rdb); err != nil {
		return err
	}

	broker := bookredis.NewBroker(rdb)

	// Repositories and the conversation store.
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	access := proxy.NewAccessControl(convRepo, userRepo)

	users := services.NewUserService(userRepo, bookredis.NewCacheStore(rdb, bookredis.DefaultCacheConfig()), log)
	conversations := services.NewConversationService(db, convRepo, outboxRepo, users, access, broker, log)
	messages := services.NewMessageService(db, msgRepo, convRepo, outboxRepo, access, broker, log)
	auth := services.NewAuthService(cfg.JWTSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute)

	mutes := bookredis.NewMuteStore(rdb, cfg.MuteDuration)
	bus := commands.NewBus(commands.NewProxyChain(access, commands.AuditProxy(log)))
	services.RegisterCallbackHandlers(bus, messages, mutes)

	flags := featureflags.NewManager(cfg.FeatureFlags, bookredis.NewFlagStore(rdb))
	if err := flags.Load(ctx); err != nil {
		log.Warn("stored feature flags not loaded, using defaults", zap.Error(err))
	}
	log.Info("feature flags", zap.String("flags", flags.String()))

	// Browser sessions and the notification fan-out.
	hub := websocket.NewHub()
	presence := bookredis.NewPresenceStore(rdb, broker, 0)

	telegram := channels.NewTelegramClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, log)
	dispatcher := notifications.NewDispatcher(conversations, users, []notifications.Sink{
		notifications.NewInAppSink(notificationRepo),
		notifications.NewTelegramSink(telegram, mutes, cfg.PublicURL),
		notifications.NewBrowserSink(hub, cfg.BrowserAutoDismiss),
	}, notifications.Config{
		Tick:       cfg.NotificationTick,
		StaleAfter: cfg.NotificationStaleAfter,
	}, log)

	// Delivery engine: the conversation store is the primary channel by
	// default, external channels are the fallbacks.
	inApp := services.NewInAppChannel(messages)
	senders := map[channels.Name]channels.Sender{
		channels.InApp:    inApp,
		channels.Telegram: channels.NewTelegramSender(telegram),
		channels.Email: channels.NewEmailSender(channels.EmailConfig{
			Endpoint: cfg.EmailAPIURL,
			APIKey:   cfg.EmailAPIKey,
			From:     cfg.EmailFrom,
		}, log),
		channels.SMS: channels.NewSMSSender(channels.SMSConfig{
			Endpoint: cfg.SMSAPIURL,
			APIKey:   cfg.SMSAPIKey,
			From:     cfg.SMSFrom,
		}, log),
	}
	primary, ok := senders[channels.Name(cfg.PrimaryChannel)]
	if !ok {
		return errors.New("unknown DELIVERY_PRIMARY_CHANNEL " + cfg.PrimaryChannel)
	}
	fallbacks := make([]channels.Sender, 0, len(channels.FallbackOrder))
	for _, name := range channels.FallbackOrder {
		fallbacks = append(fallbacks, senders[name])
	}

	engineCfg := delivery.DefaultConfig()
	engineCfg.Primary = primary.Name()
	engineCfg.RetryInterval = cfg.RetryInterval
	engineCfg.BaseDelay = cfg.RetryBaseDelay
	engineCfg.MaxDelay = cfg.RetryMaxDelay
	engineCfg.MaxRetries = cfg.RetryMaxAttempts
	engineCfg.RateLimitRetryAfter = cfg.RateLimitRetryAfter

	// The offline queue lives on local disk so it outlasts a Redis or
	// Postgres outage.
	offline, err := storage.OpenOfflineQueue(cfg.OfflineQueuePath)
	if err != nil {
		return err
	}
	defer offline.Close()

	engine := delivery.NewEngine(engineCfg, primary, fallbacks, flags, offline, dispatcher, log).
		WithRecorder(inApp)
	if n, err := engine.Restore(ctx); err != nil {
		log.Warn("offline queue not restored", zap.Error(err))
	} else if n > 0 {
		// The monitor's first check drains them once connectivity is confirmed.
		log.Info("offline queue restored", zap.Int("entries", n))
	}

	checks := []delivery.HealthCheck{
		delivery.DBCheck(db),
		{Name: "redis", Check: func(ctx context.Context) error { return bookredis.Ping(ctx, rdb) }},
	}
	if cfg.ConnectivityCheckURL != "" {
		checks = append(checks, delivery.HTTPCheck("upstream", cfg.ConnectivityCheckURL, 5*time.Second))
	}
	monitor := delivery.NewMonitor(engine, cfg.HeartbeatInterval, log, checks...)

	var store *storage.Client
	if s, err := storage.NewClient(ctx, storage.S3Config{
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Endpoint:   cfg.S3Endpoint,
		PublicBase: cfg.S3PublicBase,
		PresignTTL: cfg.S3PresignTTL,
	}); err != nil {
		log.Warn("attachment uploads disabled", zap.Error(err))
	} else {
		store = s
	}

	handlers := &server.Handlers{
		Conversation: handler.NewConversationHandler(conversations, messages),
		Message:      handler.NewMessageHandler(messages),
		Delivery:     handler.NewDeliveryHandler(engine, conversations),
		Notification: handler.NewNotificationHandler(notificationRepo),
		FeatureFlag:  handler.NewFeatureFlagHandler(flags),
		User:         handler.NewUserHandler(users, presence),
		Attachment:   handler.NewAttachmentHandler(services.NewAttachmentService(access, store)),
		WebSocket:    websocket.NewHandler(auth, hub, websocket.NewChannelAuthorizer(convRepo), presence, log),
	}
	if telegram.Configured() {
		handlers.Telegram = handler.NewTelegramHandler(cfg.TelegramWebhookSecret, cfg.PublicURL, telegram, users, conversations, messages, bus, log)
	}

	srv := server.New(cfg, log)
	srv.SetupRoutes(handlers, server.Dependencies{
		Auth: auth,
		Limiter: bookredis.NewRateLimiter(rdb, bookredis.RateLimitConfig{
			MessageLimit:  cfg.MessageRateLimit,
			MessageWindow: time.Minute,
			WebhookLimit:  cfg.WebhookRateLimit,
			WebhookWindow: time.Minute,
		}),
		Health: func(ctx context.Context) error {
			if err := database.Ping(ctx, db); err != nil {
				return err
			}
			return bookredis.Ping(ctx, rdb)
		},
	})

	// Background workers share ctx and are awaited before the stores close.
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Info("worker stopped", zap.String("worker", name))
		}()
	}

	relay := outbox.NewRunner(outbox.NewProcessor(outboxRepo, broker, log, cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxMaxRetries))
	relay.Start(ctx)
	spawn("hub", hub.Run)
	spawn("bridge", func(ctx context.Context) {
		if err := websocket.NewBridge(broker, hub, log).Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("websocket bridge failed", zap.Error(err))
		}
	})
	spawn("delivery", engine.Run)
	spawn("monitor", monitor.Run)
	spawn("notifications", dispatcher.Run)

	if err := dispatcher.Start(ctx); err != nil {
		log.Error("notification feed not started", zap.Error(err))
	}

	err = srv.Run(ctx)
	stop()
	dispatcher.Stop()
	wg.Wait()
	relay.Wait()
	return err
}
