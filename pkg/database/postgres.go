package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookdesk/config"
	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/domain/user"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// GormConfig is shared by the postgres connection and the sqlite test databases.
func GormConfig(logLevel logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	level := logger.Warn
	if cfg.AppMode == "debug" {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), GormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	return db, nil
}

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&user.User{},
		&conversation.Conversation{},
		&conversation.Participant{},
		&message.Message{},
		&message.Receipt{},
		&notification.Notification{},
		&outbox.OutboxEvent{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// HealthCheck pings the global connection.
func HealthCheck(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not initialized")
	}
	return Ping(ctx, DB)
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
