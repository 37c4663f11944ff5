package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/barn-monitor/internal/ingestion"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/gas"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/payload"
)

// DefaultPageSize is the page size of ListReadings when none is given.
const DefaultPageSize = 100

// Alerter raises gas alerts. It is satisfied by *alerts.Manager.
type Alerter interface {
	RaiseGasAlertIfAbsent(ctx context.Context, barnID, farmID string, c gas.Concentrations) (*model.Alert, error)
}

// HandlerConfig holds the configuration for the Handler.
type HandlerConfig struct {
	Logger      *slog.Logger
	Metrics     *metrics.MonitoringMetrics
	Barns       BarnDirectory
	Readings    ReadingStore
	Broadcaster Broadcaster
	Alerter     Alerter

	// Sink is optional.
	Sink ReadingSink
}

// Handler runs every validated reading through barn resolution,
// classification, persistence, fan-out and alerting.
type Handler struct {
	logger      *slog.Logger
	metrics     *metrics.MonitoringMetrics
	barns       BarnDirectory
	readings    ReadingStore
	broadcaster Broadcaster
	alerter     Alerter
	sink        ReadingSink

	mu  sync.Mutex
	sub ingestion.Subscription
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if cfg == nil {
		return nil, errors.New("handler config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Barns == nil {
		return nil, errors.New("barn directory cannot be nil")
	}

	if cfg.Readings == nil {
		return nil, errors.New("reading store cannot be nil")
	}

	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	if cfg.Alerter == nil {
		return nil, errors.New("alerter cannot be nil")
	}

	return &Handler{
		logger:      logger.Component(cfg.Logger, "monitoring"),
		metrics:     cfg.Metrics,
		barns:       cfg.Barns,
		readings:    cfg.Readings,
		broadcaster: cfg.Broadcaster,
		alerter:     cfg.Alerter,
		sink:        cfg.Sink,
	}, nil
}

// Register subscribes the handler to gas readings. A second call is a no-op.
func (h *Handler) Register(d *ingestion.Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sub != nil {
		return
	}
	h.sub = d.OnSensorReading(h.HandleReading)
	h.logger.Info("registered sensor reading handler")
}

// Unregister removes the subscription made by Register.
func (h *Handler) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sub == nil {
		return
	}
	h.sub.Unsubscribe()
	h.sub = nil
	h.logger.Info("unregistered sensor reading handler")
}

// HandleReading processes one reading. Failures are logged and counted; the
// returned error only reports that the reading was not stored.
func (h *Handler) HandleReading(ctx context.Context, r payload.Reading) error {
	if h.metrics != nil {
		timer := prometheus.NewTimer(h.metrics.ProcessingDuration)
		defer timer.ObserveDuration()
	}

	barn, err := h.resolveBarn(ctx, r.BarnID)
	if err != nil {
		if errors.Is(err, ErrBarnNotFound) {
			h.logger.Warn("received reading for unknown barn", "barn_id", r.BarnID, "sensor_id", r.SensorID)
			h.dropped("unknown_barn")
			return nil
		}
		h.dropped("store_error")
		return fmt.Errorf("failed to resolve barn %s: %w", r.BarnID, err)
	}

	c := r.Concentrations()
	level := gas.Classify(c)

	stored := &model.SensorReading{
		Timestamp:   r.Timestamp,
		SensorID:    r.SensorID,
		BarnID:      barn.ID,
		AlertLevel:  string(level),
		MethanePpm:  r.MethanePpm,
		CO2Ppm:      r.CO2Ppm,
		NH3Ppm:      r.NH3Ppm,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}
	stored.StampExpiry()

	if err := h.readings.SaveReading(ctx, stored); err != nil {
		h.dropped("store_error")
		return fmt.Errorf("failed to store reading from %s: %w", r.SensorID, err)
	}
	if h.metrics != nil {
		h.metrics.ReadingsProcessed.WithLabelValues(string(level)).Inc()
	}

	if h.sink != nil {
		if err := h.sink.Write(ctx, stored); err != nil {
			h.logger.Warn("failed to mirror reading", "sensor_id", r.SensorID, "error", err)
		}
	}

	h.broadcaster.EmitReading(stored)

	if level == gas.LevelDanger {
		h.raiseAlert(ctx, barn, c)
	}

	h.logger.Debug("processed sensor reading", "sensor_id", r.SensorID, "barn_id", barn.ID, "alert_level", level)
	return nil
}

// resolveBarn accepts a barn id or, for simulators, a barn code.
func (h *Handler) resolveBarn(ctx context.Context, key string) (*model.Barn, error) {
	barn, err := h.barns.FindByID(ctx, key)
	if err == nil {
		return barn, nil
	}
	if !errors.Is(err, ErrBarnNotFound) {
		return nil, err
	}
	return h.barns.FindByCode(ctx, key)
}

func (h *Handler) raiseAlert(ctx context.Context, barn *model.Barn, c gas.Concentrations) {
	alert, err := h.alerter.RaiseGasAlertIfAbsent(ctx, barn.ID, barn.FarmID, c)
	if err != nil {
		h.logger.Error("failed to raise gas alert", "barn_id", barn.ID, "error", err)
		return
	}
	if alert == nil {
		h.logger.Debug("active gas alert already exists", "barn_id", barn.ID)
	}
}

func (h *Handler) dropped(reason string) {
	if h.metrics != nil {
		h.metrics.ReadingsDropped.WithLabelValues(reason).Inc()
	}
}

// ListReadings returns one page of a barn's readings, newest first, and the
// offset of the next page, or -1 when there is none.
func (h *Handler) ListReadings(ctx context.Context, barnID string, offset, limit int) ([]model.SensorReading, int64, int, error) {
	if barnID == "" {
		return nil, 0, -1, errors.New("barn id cannot be empty")
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, total, err := h.readings.ListReadings(ctx, barnID, offset, limit)
	if err != nil {
		return nil, 0, -1, fmt.Errorf("failed to list readings for barn %s: %w", barnID, err)
	}

	next := offset + len(rows)
	if int64(next) >= total || len(rows) == 0 {
		next = -1
	}
	return rows, total, next, nil
}

// PurgeExpired deletes readings past their retention.
func (h *Handler) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := h.readings.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired readings: %w", err)
	}
	if h.metrics != nil && n > 0 {
		h.metrics.ReadingsReaped.Add(float64(n))
	}
	return n, nil
}
