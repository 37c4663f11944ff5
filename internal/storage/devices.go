package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/model"
)

// DeviceStore implements devices.Store. Mutations lock the device row with
// SELECT ... FOR UPDATE so concurrent handlers in any process serialize per
// device.
type DeviceStore struct {
	db *gorm.DB
}

// NewDeviceStore creates a new DeviceStore.
func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Create implements devices.Store.
func (s *DeviceStore) Create(ctx context.Context, d *model.Device) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoNothing: true,
		}).
		Create(d)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create device %s: %w", d.DeviceID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Apply implements devices.Store.
func (s *DeviceStore) Apply(ctx context.Context, deviceID string, fn devices.Mutation) (*model.Device, error) {
	var out model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Device
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", deviceID).
			First(&d).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return devices.ErrNotFound
			}
			return err
		}

		before := d
		changed, entry := fn(&d)
		if !changed {
			out = before
			return nil
		}

		if err := tx.Save(&d).Error; err != nil {
			return fmt.Errorf("failed to save device: %w", err)
		}
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to append device log: %w", err)
			}
		}
		out = d
		return nil
	})
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update device %s: %w", deviceID, err)
	}
	return &out, nil
}

// TouchHeartbeat implements devices.Store.
func (s *DeviceStore) TouchHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Update("last_heartbeat_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", deviceID, result.Error)
	}
	if result.RowsAffected == 0 {
		return devices.ErrNotFound
	}
	return nil
}

// Get implements devices.Store.
func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	var d model.Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, devices.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	return &d, nil
}

// List implements devices.Store.
func (s *DeviceStore) List(ctx context.Context, filter devices.Filter) ([]model.Device, error) {
	query := s.db.WithContext(ctx).Model(&model.Device{})
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.BarnID != "" {
		query = query.Where("barn_id = ?", filter.BarnID)
	}

	var out []model.Device
	if err := query.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return out, nil
}

// ListStale implements devices.Store.
func (s *DeviceStore) ListStale(ctx context.Context, cutoff time.Time) ([]model.Device, error) {
	var out []model.Device
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < ?", model.DeviceStatusOnline, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale devices: %w", err)
	}
	return out, nil
}

// Logs implements devices.Store.
func (s *DeviceStore) Logs(ctx context.Context, deviceID string, q devices.LogQuery) ([]model.DeviceLog, error) {
	query := s.db.WithContext(ctx).Where("device_id = ?", deviceID)
	if q.EventType != "" {
		query = query.Where("event_type = ?", q.EventType)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp >= ?", q.Since)
	}
	if q.Ascending {
		query = query.Order("timestamp ASC, id ASC")
	} else {
		query = query.Order("timestamp DESC, id DESC")
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var out []model.DeviceLog
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list logs for %s: %w", deviceID, err)
	}
	return out, nil
}

type eventCount struct {
	EventType model.DeviceEventType
	Count     int64
}

// CountEvents implements devices.Store.
func (s *DeviceStore) CountEvents(ctx context.Context, deviceID string) (map[model.DeviceEventType]int64, error) {
	var rows []eventCount
	err := s.db.WithContext(ctx).
		Model(&model.DeviceLog{}).
		Select("event_type, count(*) AS count").
		Where("device_id = ?", deviceID).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count events for %s: %w", deviceID, err)
	}

	out := make(map[model.DeviceEventType]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.Count
	}
	return out, nil
}

// Delete implements devices.Store.
func (s *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("device_id = ?", deviceID).Delete(&model.Device{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete device %s: %w", deviceID, result.Error)
		}
		if result.RowsAffected == 0 {
			return devices.ErrNotFound
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&model.DeviceLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete logs for %s: %w", deviceID, err)
		}
		return nil
	})
}

var _ devices.Store = (*DeviceStore)(nil)
