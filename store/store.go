// Package store persists evaluation reports and ensemble predictions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
)

type Store struct {
	db *gorm.DB
}

// Open connects with the configured driver and migrates the schema.
func Open(cfg config.StoreConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errdefs.Configurationf("unsupported store driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, errdefs.Configuration("store.open", err)
	}
	if err := db.AutoMigrate(&EvaluationRecord{}, &PredictionRecord{}); err != nil {
		return nil, errdefs.Configuration("store.migrate", err)
	}
	logger.Infof("store: %s ready", db.Dialector.Name())
	return &Store{db: db}, nil
}

// SaveEvaluations inserts the reports of one run in a single transaction.
// Missing ids and timestamps are filled in.
func (s *Store) SaveEvaluations(ctx context.Context, records []EvaluationRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		if records[i].RunTime.IsZero() {
			records[i].RunTime = now
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return errdefs.Upstream("store.save_evaluations", err)
	}
	return nil
}

// ListEvaluations returns records newest first. An empty kind matches all.
func (s *Store) ListEvaluations(ctx context.Context, kind string, limit int) ([]EvaluationRecord, error) {
	q := s.db.WithContext(ctx).Order("run_time desc").Order("model asc")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []EvaluationRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, errdefs.Upstream("store.list_evaluations", err)
	}
	return out, nil
}

func (s *Store) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errdefs.Upstream("store.save_prediction", err)
	}
	return nil
}

func (s *Store) GetPrediction(ctx context.Context, id string) (*PredictionRecord, error) {
	var rec PredictionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
