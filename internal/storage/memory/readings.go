package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
)

// ReadingStore implements monitoring.ReadingStore. Expired rows are hidden
// from reads and dropped by DeleteExpired.
type ReadingStore struct {
	mu       sync.RWMutex
	readings []model.SensorReading
	nextID   uint
	now      func() time.Time
}

// NewReadingStore creates an empty store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{now: time.Now}
}

// SaveReading implements monitoring.ReadingStore.
func (s *ReadingStore) SaveReading(_ context.Context, r *model.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.readings = append(s.readings, *r)
	return nil
}

// ListReadings implements monitoring.ReadingStore.
func (s *ReadingStore) ListReadings(_ context.Context, barnID string, offset, limit int) ([]model.SensorReading, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var matched []model.SensorReading
	for _, r := range s.readings {
		if r.BarnID == barnID && r.ExpireAt.After(now) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// DeleteExpired implements monitoring.ReadingStore.
func (s *ReadingStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.readings[:0]
	var removed int64
	for _, r := range s.readings {
		if r.ExpireAt.After(now) {
			kept = append(kept, r)
			continue
		}
		removed++
	}
	s.readings = kept
	return removed, nil
}

// All returns every stored reading, expired or not, oldest first.
func (s *ReadingStore) All() []model.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SensorReading, len(s.readings))
	copy(out, s.readings)
	return out
}

var _ monitoring.ReadingStore = (*ReadingStore)(nil)
