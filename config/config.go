package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort   string
	AppMode   string
	PublicURL string

	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBMaxOpenConns int
	DBMaxIdleConns int

	JWTSecret    string
	JWTExpiryMin int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	TelegramAPIURL        string
	TelegramBotToken      string
	TelegramWebhookSecret string

	EmailAPIURL string
	EmailAPIKey string
	EmailFrom   string
	SMSAPIURL   string
	SMSAPIKey   string
	SMSFrom     string

	// Delivery engine
	PrimaryChannel       string
	FeatureFlags         string
	RetryInterval        time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryMaxAttempts     int
	RateLimitRetryAfter  time.Duration
	HeartbeatInterval    time.Duration
	ConnectivityCheckURL string
	OfflineQueuePath     string

	// Notification dispatcher
	NotificationTick       time.Duration
	NotificationStaleAfter time.Duration
	BrowserAutoDismiss     time.Duration
	MuteDuration           time.Duration

	OutboxBatchSize  int
	OutboxInterval   time.Duration
	OutboxMaxRetries int

	MessageRateLimit int
	WebhookRateLimit int

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string
	S3PresignTTL time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:   getEnv("APP_PORT", "8080"),
		AppMode:   getEnv("APP_MODE", "debug"),
		PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "bookdesk"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),

		JWTSecret:    getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin: getEnvAsInt("JWT_EXPIRY_MIN", 60),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		TelegramAPIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		EmailAPIURL: getEnv("EMAIL_API_URL", ""),
		EmailAPIKey: getEnv("EMAIL_API_KEY", ""),
		EmailFrom:   getEnv("EMAIL_FROM", "support@bookdesk.local"),
		SMSAPIURL:   getEnv("SMS_API_URL", ""),
		SMSAPIKey:   getEnv("SMS_API_KEY", ""),
		SMSFrom:     getEnv("SMS_FROM", "BOOKDESK"),

		PrimaryChannel:       getEnv("DELIVERY_PRIMARY_CHANNEL", "inApp"),
		FeatureFlags:         getEnv("FEATURE_FLAGS", "fallback_telegram=on,fallback_email=on,fallback_sms=off,retry_queue=on,offline_queue=on,auth_refresh=on"),
		RetryInterval:        getEnvAsDuration("DELIVERY_RETRY_INTERVAL", 5*time.Second),
		RetryBaseDelay:       getEnvAsDuration("DELIVERY_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:        getEnvAsDuration("DELIVERY_RETRY_MAX_DELAY", 30*time.Second),
		RetryMaxAttempts:     getEnvAsInt("DELIVERY_MAX_RETRIES", 3),
		RateLimitRetryAfter:  getEnvAsDuration("DELIVERY_RATE_LIMIT_RETRY_AFTER", 60*time.Second),
		HeartbeatInterval:    getEnvAsDuration("DELIVERY_HEARTBEAT_INTERVAL", 15*time.Second),
		ConnectivityCheckURL: getEnv("DELIVERY_HEALTH_URL", ""),
		OfflineQueuePath:     getEnv("DELIVERY_OFFLINE_QUEUE_PATH", "data/offline_queue.db"),

		NotificationTick:       getEnvAsDuration("NOTIFICATION_TICK", time.Second),
		NotificationStaleAfter: getEnvAsDuration("NOTIFICATION_STALE_AFTER", 5*time.Minute),
		BrowserAutoDismiss:     getEnvAsDuration("NOTIFICATION_BROWSER_AUTO_DISMISS", 10*time.Second),
		MuteDuration:           getEnvAsDuration("NOTIFICATION_MUTE_DURATION", 8*time.Hour),

		OutboxBatchSize:  getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:   getEnvAsDuration("OUTBOX_INTERVAL", 500*time.Millisecond),
		OutboxMaxRetries: getEnvAsInt("OUTBOX_MAX_RETRIES", 5),

		MessageRateLimit: getEnvAsInt("RATE_LIMIT_MESSAGES_PER_MIN", 60),
		WebhookRateLimit: getEnvAsInt("RATE_LIMIT_WEBHOOK_PER_MIN", 600),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),
		S3PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("5s") or plain milliseconds ("5000").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
