package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bookdesk/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const offlineQueueName = "delivery"

type offlineQueueRow struct {
	Name      string `gorm:"primaryKey;size:64"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (offlineQueueRow) TableName() string {
	return "offline_queue"
}

// OfflineQueueStore keeps the delivery engine's offline queue in a sqlite
// file on local disk, so queued sends survive a restart while Redis and
// Postgres are unreachable. Each Put replaces the whole payload in one
// transaction.
type OfflineQueueStore struct {
	db *gorm.DB
}

func OpenOfflineQueue(path string) (*OfflineQueueStore, error) {
	if path == "" {
		return nil, errors.New("offline queue path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create offline queue dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"), database.GormConfig(logger.Silent))
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&offlineQueueRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate offline queue: %w", err)
	}
	return &OfflineQueueStore{db: db}, nil
}

func (s *OfflineQueueStore) Put(ctx context.Context, data []byte) error {
	row := offlineQueueRow{Name: offlineQueueName, Payload: data}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
}

// Get returns nil when nothing is stored.
func (s *OfflineQueueStore) Get(ctx context.Context) ([]byte, error) {
	var row offlineQueueRow
	err := s.db.WithContext(ctx).Where("name = ?", offlineQueueName).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

func (s *OfflineQueueStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("name = ?", offlineQueueName).Delete(&offlineQueueRow{}).Error
}

func (s *OfflineQueueStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
