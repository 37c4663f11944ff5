// Package devices tracks registration, connection state, heartbeats and
// error counters of field hardware.
package devices

import (
	"context"
	"errors"
	"time"

	"procodus.dev/barn-monitor/internal/model"
)

// ErrNotFound is returned when no device has the requested id.
var ErrNotFound = errors.New("device not found")

// Filter narrows List. Zero fields match everything.
type Filter struct {
	IsActive *bool
	Type     model.DeviceType
	Status   model.DeviceStatus
	BarnID   string
}

// LogQuery narrows Logs.
type LogQuery struct {
	// Since drops entries older than this instant when set.
	Since     time.Time
	EventType model.DeviceEventType
	// Limit caps the result; zero means no limit.
	Limit int
	// Ascending orders oldest first. The default is newest first.
	Ascending bool
}

// Mutation is applied to a device while the store holds its row exclusively.
// It reports whether the device changed and may return a log entry to append
// in the same unit of work.
type Mutation func(d *model.Device) (changed bool, entry *model.DeviceLog)

// Store persists devices and their logs. Every method that changes a device
// must be atomic per device id, across processes when the backing store is
// shared.
type Store interface {
	// Create inserts d unless a device with the same DeviceID exists. It
	// reports whether a row was created; losing a concurrent race is not an error.
	Create(ctx context.Context, d *model.Device) (bool, error)

	// Apply runs fn against the locked device and persists the result.
	Apply(ctx context.Context, deviceID string, fn Mutation) (*model.Device, error)

	// TouchHeartbeat stamps LastHeartbeatAt without changing anything else.
	TouchHeartbeat(ctx context.Context, deviceID string, at time.Time) error

	Get(ctx context.Context, deviceID string) (*model.Device, error)
	List(ctx context.Context, filter Filter) ([]model.Device, error)

	// ListStale returns online devices whose last heartbeat is before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]model.Device, error)

	Logs(ctx context.Context, deviceID string, q LogQuery) ([]model.DeviceLog, error)

	// CountEvents returns the number of log entries per event type.
	CountEvents(ctx context.Context, deviceID string) (map[model.DeviceEventType]int64, error)

	// Delete removes the device and all of its log entries.
	Delete(ctx context.Context, deviceID string) error
}
