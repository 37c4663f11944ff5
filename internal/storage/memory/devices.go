// Package memory provides mutex-guarded in-process stores. They back unit
// tests and single-instance deployments without a database.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/model"
)

// DeviceStore implements devices.Store.
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]model.Device
	logs    []model.DeviceLog
	nextID  uint
	now     func() time.Time
}

// NewDeviceStore creates an empty store.
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		devices: map[string]model.Device{},
		now:     time.Now,
	}
}

// Create implements devices.Store.
func (s *DeviceStore) Create(_ context.Context, d *model.Device) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.DeviceID]; ok {
		return false, nil
	}

	s.nextID++
	now := s.now().UTC()
	d.ID = s.nextID
	d.CreatedAt = now
	d.UpdatedAt = now
	s.devices[d.DeviceID] = copyDevice(*d)
	return true, nil
}

// Apply implements devices.Store.
func (s *DeviceStore) Apply(_ context.Context, deviceID string, fn devices.Mutation) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.devices[deviceID]
	if !ok {
		return nil, devices.ErrNotFound
	}

	d := copyDevice(stored)
	changed, entry := fn(&d)
	if !changed {
		out := copyDevice(stored)
		return &out, nil
	}

	d.UpdatedAt = s.now().UTC()
	s.devices[deviceID] = copyDevice(d)
	if entry != nil {
		s.nextID++
		e := *entry
		e.ID = s.nextID
		e.CreatedAt = d.UpdatedAt
		e.Metadata = maps.Clone(e.Metadata)
		s.logs = append(s.logs, e)
	}
	return &d, nil
}

// TouchHeartbeat implements devices.Store.
func (s *DeviceStore) TouchHeartbeat(_ context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return devices.ErrNotFound
	}
	d.LastHeartbeatAt = &at
	d.UpdatedAt = s.now().UTC()
	s.devices[deviceID] = d
	return nil
}

// Get implements devices.Store.
func (s *DeviceStore) Get(_ context.Context, deviceID string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, devices.ErrNotFound
	}
	out := copyDevice(d)
	return &out, nil
}

// List implements devices.Store.
func (s *DeviceStore) List(_ context.Context, f devices.Filter) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.BarnID != "" && (d.BarnID == nil || *d.BarnID != f.BarnID) {
			continue
		}
		if f.IsActive != nil && d.IsActive != *f.IsActive {
			continue
		}
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListStale implements devices.Store.
func (s *DeviceStore) ListStale(_ context.Context, cutoff time.Time) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Device
	for _, d := range s.devices {
		if d.Status == model.DeviceStatusOnline && d.LastHeartbeatAt != nil && d.LastHeartbeatAt.Before(cutoff) {
			out = append(out, copyDevice(d))
		}
	}
	return out, nil
}

// Logs implements devices.Store.
func (s *DeviceStore) Logs(_ context.Context, deviceID string, q devices.LogQuery) ([]model.DeviceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DeviceLog
	for _, l := range s.logs {
		if l.DeviceID != deviceID {
			continue
		}
		if q.EventType != "" && l.EventType != q.EventType {
			continue
		}
		if !q.Since.IsZero() && l.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.Ascending {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CountEvents implements devices.Store.
func (s *DeviceStore) CountEvents(_ context.Context, deviceID string) (map[model.DeviceEventType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[model.DeviceEventType]int64{}
	for _, l := range s.logs {
		if l.DeviceID == deviceID {
			counts[l.EventType]++
		}
	}
	return counts, nil
}

// Delete implements devices.Store.
func (s *DeviceStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[deviceID]; !ok {
		return devices.ErrNotFound
	}
	delete(s.devices, deviceID)

	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.DeviceID != deviceID {
			kept = append(kept, l)
		}
	}
	s.logs = kept
	return nil
}

// Count returns the number of registered devices.
func (s *DeviceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func copyDevice(d model.Device) model.Device {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}

var _ devices.Store = (*DeviceStore)(nil)
