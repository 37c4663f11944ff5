// Package alerts raises, deduplicates and transitions barn alerts and fans
// new alerts out to viewers and downstream notifiers.
package alerts

import (
	"context"
	"errors"
	"time"

	"procodus.dev/barn-monitor/internal/model"
)

var (
	// ErrNotFound is returned when no alert has the requested id.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the alert's current status.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Store persists alerts.
type Store interface {
	// CreateActiveGasAlert inserts a unless its barn already has an active
	// gas_level alert. The check and the insert are one atomic step; losing
	// the race reports false without an error.
	CreateActiveGasAlert(ctx context.Context, a *model.Alert) (bool, error)

	Get(ctx context.Context, id string) (*model.Alert, error)

	// Update applies fn to the alert while holding it exclusively and saves
	// the result unless fn fails.
	Update(ctx context.Context, id string, fn func(a *model.Alert) error) (*model.Alert, error)

	// Counts returns the number of alerts per status and per severity for a
	// farm, or for every farm when farmID is empty.
	Counts(ctx context.Context, farmID string) (map[model.AlertStatus]int64, map[model.AlertSeverity]int64, error)
}

// Broadcaster is the real-time fan-out the manager reports to.
type Broadcaster interface {
	EmitNewAlert(a *model.Alert)
	EmitAlertUpdated(id string, status model.AlertStatus, actor string, at time.Time)
}
