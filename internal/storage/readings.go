package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
)

// ReadingStore implements monitoring.ReadingStore. Expired rows are hidden
// from reads until the reaper deletes them.
type ReadingStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReadingStore creates a new ReadingStore.
func NewReadingStore(db *gorm.DB) *ReadingStore {
	return &ReadingStore{db: db, now: time.Now}
}

// SaveReading implements monitoring.ReadingStore.
func (s *ReadingStore) SaveReading(ctx context.Context, r *model.SensorReading) error {
	if r.ExpireAt.IsZero() {
		r.StampExpiry()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// ListReadings implements monitoring.ReadingStore.
func (s *ReadingStore) ListReadings(ctx context.Context, barnID string, offset, limit int) ([]model.SensorReading, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&model.SensorReading{}).
		Where("barn_id = ? AND expire_at > ?", barnID, s.now())

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	var out []model.SensorReading
	err := query.Order("timestamp DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list readings: %w", err)
	}
	return out, total, nil
}

// DeleteExpired implements monitoring.ReadingStore.
func (s *ReadingStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expire_at <= ?", now).
		Delete(&model.SensorReading{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired readings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ monitoring.ReadingStore = (*ReadingStore)(nil)
