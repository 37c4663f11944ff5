// Package monitoring runs the gas reading pipeline: barn resolution,
// classification, persistence, fan-out and alerting.
package monitoring

import (
	"context"
	"errors"
	"time"

	"procodus.dev/barn-monitor/internal/model"
)

// ErrBarnNotFound is returned by a BarnDirectory when no barn matches.
var ErrBarnNotFound = errors.New("barn not found")

// BarnDirectory looks barns up in the externally owned barn registry.
type BarnDirectory interface {
	FindByID(ctx context.Context, id string) (*model.Barn, error)
	FindByCode(ctx context.Context, code string) (*model.Barn, error)
}

// ReadingStore persists sensor readings. Implementations never return rows
// whose ExpireAt has passed.
type ReadingStore interface {
	SaveReading(ctx context.Context, r *model.SensorReading) error

	// ListReadings returns a barn's readings newest first, skipping offset
	// rows, plus the total number of reachable rows.
	ListReadings(ctx context.Context, barnID string, offset, limit int) ([]model.SensorReading, int64, error)

	// DeleteExpired purges rows whose ExpireAt is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReadingSink mirrors stored readings into a secondary system such as a
// time-series database.
type ReadingSink interface {
	Write(ctx context.Context, r *model.SensorReading) error
	Close()
}

// Broadcaster is the real-time fan-out for readings.
type Broadcaster interface {
	EmitReading(r *model.SensorReading)
}
