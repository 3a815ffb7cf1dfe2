package statestore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// StateRecord is the key-value row backing the postgres driver. Upserts are
// per-row only; the no-cross-key-transaction contract of Store still applies
// because Set batches are not wrapped in a transaction with readers.
type StateRecord struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

func (StateRecord) TableName() string {
	return "lingo_state"
}

// PostgresStore persists records in a shared PostgreSQL table via gorm, for
// deployments where several lingo instances read the same quota counters.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects to databaseURL and migrates the state table.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres state store: %w", err)
	}
	if err := db.AutoMigrate(&StateRecord{}); err != nil {
		return nil, fmt.Errorf("migrate state table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	var rows []StateRecord
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query state records: %w", err)
	}

	found := make(map[string][]byte, len(rows))
	for _, row := range rows {
		found[row.Key] = row.Value
	}
	return found, nil
}

func (s *PostgresStore) Set(ctx context.Context, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]StateRecord, 0, len(records))
	now := time.Now().UTC()
	for key, value := range records {
		rows = append(rows, StateRecord{Key: key, Value: value, UpdatedAt: now})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert state records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Delete(&StateRecord{}).Error; err != nil {
		return fmt.Errorf("delete state records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap gorm connection: %w", err)
	}
	return sqlDB.Close()
}
