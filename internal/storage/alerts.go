package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/model"
)

// AlertStore implements alerts.Store. Deduplication of active gas alerts
// relies on the partial unique index created by Migrate.
type AlertStore struct {
	db *gorm.DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

// CreateActiveGasAlert implements alerts.Store.
func (s *AlertStore) CreateActiveGasAlert(ctx context.Context, a *model.Alert) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(a)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create alert for barn %s: %w", a.BarnID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Get implements alerts.Store.
func (s *AlertStore) Get(ctx context.Context, id string) (*model.Alert, error) {
	var a model.Alert
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, alerts.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return &a, nil
}

// Update implements alerts.Store. Errors returned by fn are passed through
// unwrapped.
func (s *AlertStore) Update(ctx context.Context, id string, fn func(a *model.Alert) error) (*model.Alert, error) {
	var out model.Alert
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a model.Alert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&a).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return alerts.ErrNotFound
			}
			return err
		}

		if fnErr = fn(&a); fnErr != nil {
			return fnErr
		}
		if err := tx.Save(&a).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	switch {
	case fnErr != nil:
		return nil, fnErr
	case errors.Is(err, alerts.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	return &out, nil
}

type statusCount struct {
	Status model.AlertStatus
	Count  int64
}

type severityCount struct {
	Severity model.AlertSeverity
	Count    int64
}

// Counts implements alerts.Store.
func (s *AlertStore) Counts(ctx context.Context, farmID string) (map[model.AlertStatus]int64, map[model.AlertSeverity]int64, error) {
	scope := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Alert{})
		if farmID != "" {
			q = q.Where("farm_id = ?", farmID)
		}
		return q
	}

	var statuses []statusCount
	if err := scope().Select("status, count(*) AS count").Group("status").Scan(&statuses).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count alerts by status: %w", err)
	}
	var severities []severityCount
	if err := scope().Select("severity, count(*) AS count").Group("severity").Scan(&severities).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}

	byStatus := make(map[model.AlertStatus]int64, len(statuses))
	for _, r := range statuses {
		byStatus[r.Status] = r.Count
	}
	bySeverity := make(map[model.AlertSeverity]int64, len(severities))
	for _, r := range severities {
		bySeverity[r.Severity] = r.Count
	}
	return byStatus, bySeverity, nil
}

var _ alerts.Store = (*AlertStore)(nil)
