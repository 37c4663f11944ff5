// Package influx mirrors stored sensor readings into InfluxDB for
// time-series dashboards.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/pkg/logger"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "gas_reading"

// SinkConfig holds the configuration for the Sink.
type SinkConfig struct {
	Logger *slog.Logger
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Sink implements monitoring.ReadingSink with a blocking write API, so a
// failed write is reported to the caller.
type Sink struct {
	logger *slog.Logger
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewSink creates a new Sink. It does not contact the server; use Ping to
// check connectivity.
func NewSink(cfg *SinkConfig) (*Sink, error) {
	if cfg == nil {
		return nil, errors.New("sink config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("influx url cannot be empty")
	}

	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx org and bucket cannot be empty")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		logger: logger.Component(cfg.Logger, "influx"),
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Ping checks the server health.
func (s *Sink) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach influxdb: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}
	return nil
}

// Write implements monitoring.ReadingSink.
func (s *Sink) Write(ctx context.Context, r *model.SensorReading) error {
	p := influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"barn_id":     r.BarnID,
			"sensor_id":   r.SensorID,
			"alert_level": r.AlertLevel,
		},
		map[string]interface{}{
			"methane_ppm": r.MethanePpm,
			"co2_ppm":     r.CO2Ppm,
			"nh3_ppm":     r.NH3Ppm,
			"temperature": r.Temperature,
			"humidity":    r.Humidity,
		},
		r.Timestamp,
	)

	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write reading to influxdb: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	s.client.Close()
	s.logger.Info("influx sink closed")
}

var _ monitoring.ReadingSink = (*Sink)(nil)
