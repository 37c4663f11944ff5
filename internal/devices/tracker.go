package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
)

const defaultLogLimit = 100

// TrackerConfig holds the configuration for a Tracker.
type TrackerConfig struct {
	Logger  *slog.Logger
	Store   Store
	Metrics *metrics.MonitoringMetrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Tracker applies device lifecycle events to a Store.
type Tracker struct {
	logger  *slog.Logger
	store   Store
	metrics *metrics.MonitoringMetrics
	now     func() time.Time
}

// NewTracker creates a new Tracker instance.
func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("tracker config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("device store cannot be nil")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		logger:  logger.Component(cfg.Logger, "devices"),
		store:   cfg.Store,
		metrics: cfg.Metrics,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// EnsureRegistered creates the device in the offline state when it is not
// known yet. Existing devices are left untouched. It reports whether this
// call created the device.
func (t *Tracker) EnsureRegistered(ctx context.Context, deviceID string, typ model.DeviceType, metadata map[string]any) (bool, error) {
	if deviceID == "" {
		return false, errors.New("device id cannot be empty")
	}

	d := &model.Device{
		DeviceID: deviceID,
		Type:     typ,
		Status:   model.DeviceStatusOffline,
		Metadata: cloneMetadata(metadata),
		IsActive: true,
	}
	if barnID, ok := metadata["barnId"].(string); ok && barnID != "" {
		d.BarnID = &barnID
	}

	created, err := t.store.Create(ctx, d)
	if err != nil {
		return false, fmt.Errorf("failed to register device %s: %w", deviceID, err)
	}
	if created {
		t.logger.Info("device registered", "device_id", deviceID, "type", typ)
		t.count("registered")
	}
	return created, nil
}

// Register creates the device, or reactivates an existing one and merges
// metadata into it.
func (t *Tracker) Register(ctx context.Context, deviceID string, typ model.DeviceType, metadata map[string]any) (*model.Device, error) {
	created, err := t.EnsureRegistered(ctx, deviceID, typ, metadata)
	if err != nil {
		return nil, err
	}
	if created {
		return t.store.Get(ctx, deviceID)
	}

	return t.store.Apply(ctx, deviceID, func(d *model.Device) (bool, *model.DeviceLog) {
		d.Metadata = mergeMetadata(d.Metadata, metadata)
		d.IsActive = true
		return true, nil
	})
}

// Connect moves the device online.
func (t *Tracker) Connect(ctx context.Context, deviceID string, metadata map[string]any) (*model.Device, error) {
	now := t.now()

	d, err := t.store.Apply(ctx, deviceID, func(d *model.Device) (bool, *model.DeviceLog) {
		previous := d.Status
		d.Status = model.DeviceStatusOnline
		d.LastConnectedAt = &now
		d.LastHeartbeatAt = &now
		d.TotalConnections++
		if metadata != nil {
			d.Metadata = mergeMetadata(d.Metadata, metadata)
		}

		return true, &model.DeviceLog{
			DeviceID:       deviceID,
			EventType:      model.EventConnected,
			Status:         model.DeviceStatusOnline,
			PreviousStatus: previous,
			Message:        "Device connected successfully",
			Metadata:       cloneMetadata(metadata),
			Timestamp:      now,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect device %s: %w", deviceID, err)
	}

	t.logger.Info("device connected", "device_id", deviceID)
	t.count("connected")
	return d, nil
}

// Disconnect moves the device offline. An error reason also counts as a
// device error.
func (t *Tracker) Disconnect(ctx context.Context, deviceID string, reason model.DisconnectReason, message string, metadata map[string]any) (*model.Device, error) {
	if reason == "" {
		reason = model.DisconnectUnknown
	}
	now := t.now()

	d, err := t.store.Apply(ctx, deviceID, func(d *model.Device) (bool, *model.DeviceLog) {
		return true, disconnect(d, reason, message, metadata, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disconnect device %s: %w", deviceID, err)
	}

	t.logger.Info("device disconnected", "device_id", deviceID, "reason", reason)
	t.count("disconnected")
	return d, nil
}

func disconnect(d *model.Device, reason model.DisconnectReason, message string, metadata map[string]any, now time.Time) *model.DeviceLog {
	previous := d.Status
	d.Status = model.DeviceStatusOffline
	d.LastDisconnectedAt = &now
	d.LastDisconnectReason = reason
	d.LastDisconnectMessage = message
	d.TotalDisconnections++

	if reason == model.DisconnectError {
		d.ErrorCount++
		d.LastErrorAt = &now
		d.LastErrorMessage = message
	}

	logMessage := message
	if logMessage == "" {
		logMessage = "Device disconnected: " + string(reason)
	}

	return &model.DeviceLog{
		DeviceID:         d.DeviceID,
		EventType:        model.EventDisconnected,
		Status:           model.DeviceStatusOffline,
		PreviousStatus:   previous,
		DisconnectReason: reason,
		Message:          logMessage,
		Metadata:         cloneMetadata(metadata),
		Timestamp:        now,
	}
}

// ReportError moves the device into the error state. It does not imply a
// disconnect.
func (t *Tracker) ReportError(ctx context.Context, deviceID, message, code string, metadata map[string]any) (*model.Device, error) {
	now := t.now()

	d, err := t.store.Apply(ctx, deviceID, func(d *model.Device) (bool, *model.DeviceLog) {
		previous := d.Status
		d.Status = model.DeviceStatusError
		d.ErrorCount++
		d.LastErrorAt = &now
		d.LastErrorMessage = message

		return true, &model.DeviceLog{
			DeviceID:       deviceID,
			EventType:      model.EventError,
			Status:         model.DeviceStatusError,
			PreviousStatus: previous,
			Message:        message,
			ErrorCode:      code,
			Metadata:       cloneMetadata(metadata),
			Timestamp:      now,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record error for device %s: %w", deviceID, err)
	}

	t.logger.Error("device error", "device_id", deviceID, "message", message, "error_code", code)
	t.count("error")
	return d, nil
}

// Heartbeat stamps LastHeartbeatAt. The status is not changed.
func (t *Tracker) Heartbeat(ctx context.Context, deviceID string) error {
	if err := t.store.TouchHeartbeat(ctx, deviceID, t.now()); err != nil {
		return fmt.Errorf("failed to update heartbeat for device %s: %w", deviceID, err)
	}
	t.count("heartbeat")
	return nil
}

// SweepStale forces every online device whose last heartbeat is older than
// timeout offline with the timeout reason. It returns the devices it moved.
func (t *Tracker) SweepStale(ctx context.Context, timeout time.Duration) ([]model.Device, error) {
	now := t.now()
	cutoff := now.Add(-timeout)

	candidates, err := t.store.ListStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale devices: %w", err)
	}

	message := fmt.Sprintf("No heartbeat received for %s minutes",
		strconv.FormatFloat(timeout.Minutes(), 'f', -1, 64))

	swept := make([]model.Device, 0, len(candidates))
	for _, c := range candidates {
		moved := false
		d, err := t.store.Apply(ctx, c.DeviceID, func(d *model.Device) (bool, *model.DeviceLog) {
			// A heartbeat may have landed since the candidates were listed.
			if d.Status != model.DeviceStatusOnline || d.LastHeartbeatAt == nil || !d.LastHeartbeatAt.Before(cutoff) {
				return false, nil
			}
			moved = true
			return true, disconnect(d, model.DisconnectTimeout, message, nil, now)
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return swept, fmt.Errorf("failed to sweep device %s: %w", c.DeviceID, err)
		}
		if !moved {
			continue
		}

		t.logger.Warn("device marked offline after missed heartbeats", "device_id", d.DeviceID, "timeout", timeout)
		t.count("disconnected")
		if t.metrics != nil {
			t.metrics.StaleDevices.Inc()
		}
		swept = append(swept, *d)
	}

	return swept, nil
}

// Get returns one device.
func (t *Tracker) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	return t.store.Get(ctx, deviceID)
}

// List returns the devices matching filter, newest first.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]model.Device, error) {
	return t.store.List(ctx, filter)
}

// Logs returns up to limit log entries for the device, newest first,
// optionally restricted to one event type. A non-positive limit means 100.
func (t *Tracker) Logs(ctx context.Context, deviceID string, limit int, eventType model.DeviceEventType) ([]model.DeviceLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return t.store.Logs(ctx, deviceID, LogQuery{EventType: eventType, Limit: limit})
}

// Statistics returns counters, the 24h uptime share and event counts.
func (t *Tracker) Statistics(ctx context.Context, deviceID string) (*Statistics, error) {
	d, err := t.store.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	recent, err := t.store.Logs(ctx, deviceID, LogQuery{Since: now.Add(-UptimeWindow), Ascending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load device logs: %w", err)
	}

	counts, err := t.store.CountEvents(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count device events: %w", err)
	}

	return &Statistics{
		Device:              d,
		TotalConnections:    d.TotalConnections,
		TotalDisconnections: d.TotalDisconnections,
		ErrorCount:          d.ErrorCount,
		UptimePercentage:    Uptime(recent, d.Status, now),
		RecentEvents: EventCounts{
			Connections:    counts[model.EventConnected],
			Disconnections: counts[model.EventDisconnected],
			Errors:         counts[model.EventError],
		},
	}, nil
}

// Delete removes the device and purges its log.
func (t *Tracker) Delete(ctx context.Context, deviceID string) error {
	if err := t.store.Delete(ctx, deviceID); err != nil {
		return err
	}
	t.logger.Info("device deleted", "device_id", deviceID)
	return nil
}

func (t *Tracker) count(event string) {
	if t.metrics != nil {
		t.metrics.DeviceEvents.WithLabelValues(event).Inc()
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}
