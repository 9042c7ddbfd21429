package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// kvRow is the GORM model backing PostgresKV: one row per key, value
// stored as a JSON text column rather than a typed schema per document
// kind, since callers already marshal/unmarshal their own types.
type kvRow struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (kvRow) TableName() string { return "correlate_kv" }

// PostgresKV is the KV backend for deployments that already standardize
// on Postgres, using gorm.io/gorm + gorm.io/driver/postgres with the same
// connection-pool tuning the teacher's db.PGInfo applies.
type PostgresKV struct {
	db *gorm.DB
}

// OpenPostgresKV connects to dsn and migrates the kv table.
func OpenPostgresKV(dsn string) (*PostgresKV, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate kv table: %w", err)
	}
	return &PostgresKV{db: db}, nil
}

func (p *PostgresKV) PutJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	row := kvRow{Key: key, Value: data, UpdatedAt: time.Now().UTC()}
	err = p.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	var row kvRow
	err := p.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal(row.Value, dest); err != nil {
		return false, fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	err := p.db.WithContext(ctx).Delete(&kvRow{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("store: unwrap sql.DB: %w", err)
	}
	return sqlDB.Close()
}
