package memory

import (
	"context"
	"sync"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/model"
)

// AlertStore implements alerts.Store. A single mutex makes the
// check-and-insert of CreateActiveGasAlert atomic.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]model.Alert
}

// NewAlertStore creates an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: map[string]model.Alert{}}
}

// CreateActiveGasAlert implements alerts.Store.
func (s *AlertStore) CreateActiveGasAlert(_ context.Context, a *model.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.BarnID == a.BarnID &&
			existing.Type == model.AlertTypeGasLevel &&
			existing.Status == model.AlertActive {
			return false, nil
		}
	}
	s.alerts[a.ID] = *a
	return true, nil
}

// Get implements alerts.Store.
func (s *AlertStore) Get(_ context.Context, id string) (*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, alerts.ErrNotFound
	}
	return &a, nil
}

// Update implements alerts.Store.
func (s *AlertStore) Update(_ context.Context, id string, fn func(a *model.Alert) error) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, alerts.ErrNotFound
	}
	if err := fn(&a); err != nil {
		return nil, err
	}
	s.alerts[id] = a
	return &a, nil
}

// Counts implements alerts.Store.
func (s *AlertStore) Counts(_ context.Context, farmID string) (map[model.AlertStatus]int64, map[model.AlertSeverity]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := map[model.AlertStatus]int64{}
	bySeverity := map[model.AlertSeverity]int64{}
	for _, a := range s.alerts {
		if farmID != "" && a.FarmID != farmID {
			continue
		}
		byStatus[a.Status]++
		bySeverity[a.Severity]++
	}
	return byStatus, bySeverity, nil
}

// Active returns the active gas alerts of a barn. There is never more than one.
func (s *AlertStore) Active(barnID string) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Alert
	for _, a := range s.alerts {
		if a.BarnID == barnID && a.Type == model.AlertTypeGasLevel && a.Status == model.AlertActive {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of stored alerts.
func (s *AlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

var _ alerts.Store = (*AlertStore)(nil)
