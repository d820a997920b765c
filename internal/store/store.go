package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recycling-sorter/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	SyncBins(ctx context.Context, bins []model.Bin) error
	RecordSort(ctx context.Context, rec *model.SortRecord) error
	RecordBinTransition(ctx context.Context, binID int, full bool, at time.Time) error
	RecordClimate(ctx context.Context, reading *model.ClimateReading) error

	ListBins(ctx context.Context) ([]BinView, error)
	RecentSorts(ctx context.Context, limit int) ([]model.SortRecord, error)
	SortCounts(ctx context.Context, since time.Time) (map[string]int64, error)
	BinHistory(ctx context.Context, binID int, limit int) ([]model.BinTransition, error)
	LatestClimate(ctx context.Context) (*model.ClimateReading, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// SyncBins upserts the configured bins.
func (s *gormStore) SyncBins(ctx context.Context, bins []model.Bin) error {
	if len(bins) == 0 {
		return nil
	}
	log.Printf("Syncing %d bins...", len(bins))
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "display_name", "enabled", "sensor_pin", "servo_channel", "updated_at"}),
	}).Create(&bins).Error
}

// RecordSort stores a completed sorting cycle.
func (s *gormStore) RecordSort(ctx context.Context, rec *model.SortRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record sort %s: %w", rec.ID, err)
	}
	return nil
}

// RecordBinTransition updates the current state of a bin and, when it
// changed, archives the transition.
func (s *gormStore) RecordBinTransition(ctx context.Context, binID int, full bool, at time.Time) error {
	var current model.BinStateOpen
	err := s.db.WithContext(ctx).Where("bin_id = ?", binID).Take(&current).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to fetch state of bin %d: %w", binID, err)
	}
	if exists && current.Full == full {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transition := model.BinTransition{
			BinID:      binID,
			Full:       full,
			ObservedAt: at,
		}
		if exists {
			transition.PeriodStart = current.ObservedAt
		}
		if err := tx.Create(&transition).Error; err != nil {
			return fmt.Errorf("failed to archive transition for bin %d: %w", binID, err)
		}

		open := model.BinStateOpen{BinID: binID, Full: full, ObservedAt: at}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full", "observed_at"}),
		}).Create(&open).Error; err != nil {
			return fmt.Errorf("failed to update state of bin %d: %w", binID, err)
		}
		return nil
	})
}

// RecordClimate stores a climate sample.
func (s *gormStore) RecordClimate(ctx context.Context, reading *model.ClimateReading) error {
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return fmt.Errorf("failed to record climate: %w", err)
	}
	return nil
}

// ListBins returns every bin joined with its current state.
func (s *gormStore) ListBins(ctx context.Context) ([]BinView, error) {
	var views []BinView
	err := s.db.WithContext(ctx).
		Table("bins").
		Select("bins.id, bins.name, bins.display_name, bins.enabled, bin_state_opens.full, bin_state_opens.observed_at").
		Joins("LEFT JOIN bin_state_opens ON bin_state_opens.bin_id = bins.id").
		Order("bins.id").
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bins: %w", err)
	}
	return views, nil
}

// RecentSorts returns the latest sorting cycles, newest first.
func (s *gormStore) RecentSorts(ctx context.Context, limit int) ([]model.SortRecord, error) {
	var records []model.SortRecord
	if err := s.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch sorts: %w", err)
	}
	return records, nil
}

// SortCounts returns the number of items sorted per category since a time.
func (s *gormStore) SortCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []CategoryCount
	if err := s.db.WithContext(ctx).
		Model(&model.SortRecord{}).
		Select("category, COUNT(*) AS count").
		Where("completed_at >= ?", since).
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count sorts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Category] = r.Count
	}
	return counts, nil
}

// BinHistory returns the latest transitions of a bin, newest first.
func (s *gormStore) BinHistory(ctx context.Context, binID int, limit int) ([]model.BinTransition, error) {
	var transitions []model.BinTransition
	if err := s.db.WithContext(ctx).
		Where("bin_id = ?", binID).
		Order("observed_at DESC").
		Limit(limit).
		Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch history of bin %d: %w", binID, err)
	}
	return transitions, nil
}

// LatestClimate returns the most recent climate sample, nil if there is none.
func (s *gormStore) LatestClimate(ctx context.Context) (*model.ClimateReading, error) {
	var reading model.ClimateReading
	err := s.db.WithContext(ctx).Order("observed_at DESC").Take(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch climate: %w", err)
	}
	return &reading, nil
}
