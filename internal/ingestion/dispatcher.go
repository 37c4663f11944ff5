package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/payload"
)

// Message classes, used in logs and metric labels.
const (
	ClassGasReading      = "gas_reading"
	ClassDeviceStatus    = "device_status"
	ClassDeviceHeartbeat = "device_heartbeat"
	ClassDeviceError     = "device_error"
	ClassUnknown         = "unknown"
)

// ReadingCallback receives every valid gas reading.
type ReadingCallback func(ctx context.Context, r payload.Reading) error

// StatusCallback receives device status messages.
type StatusCallback func(ctx context.Context, deviceID string, p payload.StatusPayload) error

// HeartbeatCallback receives device heartbeats.
type HeartbeatCallback func(ctx context.Context, deviceID string, p payload.HeartbeatPayload) error

// ErrorCallback receives device error reports.
type ErrorCallback func(ctx context.Context, deviceID string, p payload.ErrorPayload) error

// Subscription is a registered callback.
type Subscription interface {
	// Unsubscribe removes the callback. Calling it again is a no-op.
	Unsubscribe()
}

type registration[F any] struct {
	id uint64
	fn F
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

// Dispatcher is the callback registry between the ingestion client and its
// consumers. Dispatch works on a snapshot, so callbacks may subscribe or
// unsubscribe while messages are in flight.
type Dispatcher struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	metrics    *metrics.IngestionMetrics
	nextID     uint64
	readings   []registration[ReadingCallback]
	statuses   []registration[StatusCallback]
	heartbeats []registration[HeartbeatCallback]
	errs       []registration[ErrorCallback]
}

// NewDispatcher creates an empty dispatcher. m may be nil.
func NewDispatcher(l *slog.Logger, m *metrics.IngestionMetrics) *Dispatcher {
	if l == nil {
		l = logger.Discard()
	}
	return &Dispatcher{
		logger:  logger.Component(l, "dispatcher"),
		metrics: m,
	}
}

// OnSensorReading registers fn for gas readings.
func (d *Dispatcher) OnSensorReading(fn ReadingCallback) Subscription {
	return add(d, &d.readings, fn)
}

// OnDeviceStatus registers fn for device status messages.
func (d *Dispatcher) OnDeviceStatus(fn StatusCallback) Subscription {
	return add(d, &d.statuses, fn)
}

// OnDeviceHeartbeat registers fn for device heartbeats.
func (d *Dispatcher) OnDeviceHeartbeat(fn HeartbeatCallback) Subscription {
	return add(d, &d.heartbeats, fn)
}

// OnDeviceError registers fn for device error reports.
func (d *Dispatcher) OnDeviceError(fn ErrorCallback) Subscription {
	return add(d, &d.errs, fn)
}

func add[F any](d *Dispatcher, list *[]registration[F], fn F) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	*list = append(*list, registration[F]{id: id, fn: fn})

	return &subscription{remove: func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		for i, r := range *list {
			if r.id == id {
				// Copy so snapshots taken earlier stay intact.
				next := make([]registration[F], 0, len(*list)-1)
				next = append(next, (*list)[:i]...)
				*list = append(next, (*list)[i+1:]...)
				return
			}
		}
	}}
}

func snapshot[F any](d *Dispatcher, list *[]registration[F]) []registration[F] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *list
}

// DispatchReading hands r to every reading callback.
func (d *Dispatcher) DispatchReading(ctx context.Context, r payload.Reading) {
	for _, reg := range snapshot(d, &d.readings) {
		d.call(ClassGasReading, r.SensorID, func() error { return reg.fn(ctx, r) })
	}
}

// DispatchStatus hands a status message to every status callback.
func (d *Dispatcher) DispatchStatus(ctx context.Context, deviceID string, p payload.StatusPayload) {
	for _, reg := range snapshot(d, &d.statuses) {
		d.call(ClassDeviceStatus, deviceID, func() error { return reg.fn(ctx, deviceID, p) })
	}
}

// DispatchHeartbeat hands a heartbeat to every heartbeat callback.
func (d *Dispatcher) DispatchHeartbeat(ctx context.Context, deviceID string, p payload.HeartbeatPayload) {
	for _, reg := range snapshot(d, &d.heartbeats) {
		d.call(ClassDeviceHeartbeat, deviceID, func() error { return reg.fn(ctx, deviceID, p) })
	}
}

// DispatchError hands an error report to every error callback.
func (d *Dispatcher) DispatchError(ctx context.Context, deviceID string, p payload.ErrorPayload) {
	for _, reg := range snapshot(d, &d.errs) {
		d.call(ClassDeviceError, deviceID, func() error { return reg.fn(ctx, deviceID, p) })
	}
}

// call isolates one callback: an error or a panic is logged and counted and
// never reaches the other callbacks.
func (d *Dispatcher) call(class, id string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panicked: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	if d.metrics != nil {
		d.metrics.CallbackFailures.WithLabelValues(class).Inc()
	}
	d.logger.Error("callback failed", "class", class, "id", id, "error", err)
}
