// Package simulator publishes synthetic barn telemetry to the MQTT broker:
// gas readings, device status, heartbeats and faults, plus livestock
// movements sent to the monitoring API.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/barn-monitor/pkg/gas"
	"procodus.dev/barn-monitor/pkg/generator"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/mqtt"
)

// Message kinds, used in logs and metric labels.
const (
	KindReading   = "reading"
	KindStatus    = "status"
	KindHeartbeat = "heartbeat"
	KindError     = "error"
	KindMovement  = "movement"
)

// ReadingTopic is the topic a gas sensor publishes readings on.
func ReadingTopic(sensorID string) string {
	return "sensors/gas/" + sensorID
}

// DeviceTopic is the topic a device publishes status, heartbeat or error
// messages on.
func DeviceTopic(deviceID, kind string) string {
	return "livestock/devices/" + deviceID + "/" + kind
}

type statusMessage struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type heartbeatMessage struct {
	Timestamp time.Time `json:"timestamp"`
}

type errorMessage struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	ErrorCode string         `json:"errorCode,omitempty"`
}

// publisher sends simulator messages over one broker session.
type publisher struct {
	mqtt    mqtt.ClientInterface
	metrics *metrics.SimulatorMetrics
	logger  *slog.Logger
}

func (p *publisher) publish(ctx context.Context, kind, topic string, qos byte, v any) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(kind))
		defer timer.ObserveDuration()
	}

	body, err := json.Marshal(v)
	if err != nil {
		p.failed(kind, "marshal_error")
		return fmt.Errorf("failed to encode %s message: %w", kind, err)
	}
	if err := p.mqtt.Publish(ctx, topic, qos, false, body); err != nil {
		p.failed(kind, "publish_error")
		return fmt.Errorf("failed to publish %s on %s: %w", kind, topic, err)
	}

	if p.metrics != nil {
		p.metrics.MessagesPublished.WithLabelValues(kind).Inc()
	}
	return nil
}

func (p *publisher) failed(kind, reason string) {
	if p.metrics != nil {
		p.metrics.PublishFailures.WithLabelValues(kind, reason).Inc()
	}
}

func (p *publisher) status(ctx context.Context, deviceID string, msg statusMessage) error {
	return p.publish(ctx, KindStatus, DeviceTopic(deviceID, KindStatus), 1, msg)
}

func (p *publisher) heartbeat(ctx context.Context, deviceID string, at time.Time) error {
	return p.publish(ctx, KindHeartbeat, DeviceTopic(deviceID, KindHeartbeat), 0, heartbeatMessage{Timestamp: at.UTC()})
}

// Fleet is the set of simulated devices. Tick drives it; it is not safe for
// concurrent use.
type Fleet struct {
	publisher

	sensors           []*generator.GasSensor
	readers           []*generator.RFIDReader
	weights           generator.Weights
	errorProbability  float64
	heartbeatInterval time.Duration
	lastHeartbeat     map[string]time.Time
}

// Sensors returns the simulated gas sensors.
func (f *Fleet) Sensors() []*generator.GasSensor {
	return f.sensors
}

// Readers returns the simulated RFID readers.
func (f *Fleet) Readers() []*generator.RFIDReader {
	return f.readers
}

// Announce publishes an online status for every device.
func (f *Fleet) Announce(ctx context.Context, now time.Time) error {
	for _, s := range f.sensors {
		if err := f.status(ctx, s.SensorID, statusMessage{
			Status:    "online",
			Timestamp: now.UTC(),
			Metadata:  s.Metadata(),
		}); err != nil {
			return err
		}
	}
	for _, r := range f.readers {
		if err := f.status(ctx, r.ReaderID, statusMessage{
			Status:    "online",
			Timestamp: now.UTC(),
			Metadata:  r.Metadata(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Retire publishes an intentional offline status for every device. It
// keeps going on failure and returns the first error.
func (f *Fleet) Retire(ctx context.Context, now time.Time) error {
	var first error
	retire := func(id string, md map[string]any) {
		err := f.status(ctx, id, statusMessage{
			Status:    "offline",
			Reason:    "intentional",
			Message:   "Simulator shutting down gracefully",
			Timestamp: now.UTC(),
			Metadata:  md,
		})
		if err != nil && first == nil {
			first = err
		}
	}
	for _, s := range f.sensors {
		retire(s.SensorID, s.Metadata())
	}
	for _, r := range f.readers {
		retire(r.ReaderID, r.Metadata())
	}
	return first
}

// Tick runs one cycle: each sensor sends a heartbeat when one is due and
// then either a reading or, with the configured probability, a fault.
func (f *Fleet) Tick(ctx context.Context, now time.Time) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for _, s := range f.sensors {
		keep(f.beat(ctx, s.SensorID, now))

		if fault, failed := s.Fault(f.errorProbability); failed {
			keep(f.publish(ctx, KindError, DeviceTopic(s.SensorID, KindError), 1, errorMessage{
				Error:     fault.Message,
				Message:   fault.Message,
				ErrorCode: fault.Code,
				Timestamp: now.UTC(),
				Metadata:  map[string]any{"type": "gas_sensor"},
			}))
			f.logger.Warn("simulated sensor fault", "sensor_id", s.SensorID, "code", fault.Code)
			continue
		}

		condition := s.PickCondition(f.weights)
		reading := s.Reading(now, condition)
		if err := f.publish(ctx, KindReading, ReadingTopic(reading.SensorID), 1, reading); err != nil {
			keep(err)
			continue
		}

		level := gas.Classify(reading.Concentrations())
		if level == gas.LevelDanger && f.metrics != nil {
			f.metrics.DangerousReadings.Inc()
		}
		f.logger.Debug("published reading",
			"sensor_id", reading.SensorID,
			"barn_id", reading.BarnID,
			"alert_level", level,
		)
	}

	for _, r := range f.readers {
		keep(f.beat(ctx, r.ReaderID, now))
	}
	return first
}

// beat sends a heartbeat for deviceID when the last one is older than the
// heartbeat interval.
func (f *Fleet) beat(ctx context.Context, deviceID string, now time.Time) error {
	if last, ok := f.lastHeartbeat[deviceID]; ok && now.Sub(last) < f.heartbeatInterval {
		return nil
	}
	if err := f.heartbeat(ctx, deviceID, now); err != nil {
		return err
	}
	f.lastHeartbeat[deviceID] = now
	return nil
}
