package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/gas"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
)

const (
	// GasAlertTitle is the fixed title of every gas alert.
	GasAlertTitle = "Critical Gas Levels Detected"

	defaultNotifyTimeout = 30 * time.Second
)

// ManagerConfig holds the configuration for a Manager.
type ManagerConfig struct {
	Logger      *slog.Logger
	Store       Store
	Broadcaster Broadcaster
	Metrics     *metrics.MonitoringMetrics
	// Notifiers receive every new alert. Each runs on its own goroutine.
	Notifiers []Notifier
	// NotifyTimeout bounds one notifier call (default 30s).
	NotifyTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Stats counts the alerts of a farm.
type Stats struct {
	BySeverity   map[model.AlertSeverity]int64 `json:"bySeverity"`
	Total        int64                         `json:"total"`
	Active       int64                         `json:"active"`
	Acknowledged int64                         `json:"acknowledged"`
	Resolved     int64                         `json:"resolved"`
}

// Manager owns alert creation and status transitions.
type Manager struct {
	logger        *slog.Logger
	store         Store
	broadcaster   Broadcaster
	metrics       *metrics.MonitoringMetrics
	notifiers     []Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
}

// NewManager creates a new Manager instance.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("manager config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("alert store cannot be nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Manager{
		logger:        logger.Component(cfg.Logger, "alerts"),
		store:         cfg.Store,
		broadcaster:   cfg.Broadcaster,
		metrics:       cfg.Metrics,
		notifiers:     cfg.Notifiers,
		notifyTimeout: timeout,
		now:           func() time.Time { return now().UTC() },
	}, nil
}

// GasAlertMessage lists every gas above its danger threshold.
func GasAlertMessage(c gas.Concentrations) string {
	parts := make([]string, 0, 3)
	for _, e := range gas.DangerGases(c) {
		parts = append(parts, e.String())
	}
	return fmt.Sprintf("Dangerous gas levels detected in barn. %s. Immediate action required.", strings.Join(parts, ", "))
}

// RaiseGasAlertIfAbsent creates a critical gas alert for the barn unless one
// is already active. It returns nil without an error when an active alert
// exists. The new alert is broadcast and handed to the notifiers; notifier
// failures are logged and counted only.
func (m *Manager) RaiseGasAlertIfAbsent(ctx context.Context, barnID, farmID string, c gas.Concentrations) (*model.Alert, error) {
	if barnID == "" {
		return nil, errors.New("barn id cannot be empty")
	}

	now := m.now()
	a := &model.Alert{
		ID:        uuid.NewString(),
		Type:      model.AlertTypeGasLevel,
		Severity:  model.SeverityCritical,
		BarnID:    barnID,
		FarmID:    farmID,
		Title:     GasAlertTitle,
		Message:   GasAlertMessage(c),
		Status:    model.AlertActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := m.store.CreateActiveGasAlert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create gas alert for barn %s: %w", barnID, err)
	}
	if !created {
		m.logger.Debug("active gas alert already exists", "barn_id", barnID)
		if m.metrics != nil {
			m.metrics.AlertsDeduplicated.Inc()
		}
		return nil, nil
	}

	if m.metrics != nil {
		m.metrics.AlertsRaised.Inc()
	}
	m.logger.Warn("created critical gas alert",
		"alert_id", a.ID,
		"barn_id", barnID,
		"farm_id", farmID,
		"message", a.Message,
	)

	m.broadcaster.EmitNewAlert(a)
	m.notify(a)

	return a, nil
}

func (m *Manager) notify(a *model.Alert) {
	for _, n := range m.notifiers {
		m.wg.Add(1)
		go func(n Notifier) {
			defer m.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
			defer cancel()

			if err := n.Notify(ctx, a); err != nil {
				m.logger.Error("alert notification failed",
					"notifier", n.Name(),
					"alert_id", a.ID,
					"error", err,
				)
				if m.metrics != nil {
					m.metrics.NotificationFailures.WithLabelValues(n.Name()).Inc()
				}
				return
			}
			m.logger.Info("alert notification sent", "notifier", n.Name(), "alert_id", a.ID)
		}(n)
	}
}

// Acknowledge moves an active alert to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*model.Alert, error) {
	now := m.now()

	a, err := m.store.Update(ctx, id, func(a *model.Alert) error {
		if a.Status != model.AlertActive {
			return fmt.Errorf("%w: cannot acknowledge alert with status '%s', only active alerts can be acknowledged",
				ErrInvalidTransition, a.Status)
		}
		a.Status = model.AlertAcknowledged
		a.AcknowledgedAt = &now
		a.AcknowledgedBy = actor
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(a, actor, now)
	return a, nil
}

// Resolve moves an active or acknowledged alert to resolved.
func (m *Manager) Resolve(ctx context.Context, id, actor string) (*model.Alert, error) {
	now := m.now()

	a, err := m.store.Update(ctx, id, func(a *model.Alert) error {
		if a.Status == model.AlertResolved {
			return fmt.Errorf("%w: alert is already resolved", ErrInvalidTransition)
		}
		a.Status = model.AlertResolved
		a.ResolvedAt = &now
		a.ResolvedBy = actor
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(a, actor, now)
	return a, nil
}

func (m *Manager) transitioned(a *model.Alert, actor string, at time.Time) {
	m.logger.Info("alert status changed", "alert_id", a.ID, "status", a.Status, "actor", actor)
	if m.metrics != nil {
		m.metrics.AlertTransitions.WithLabelValues(string(a.Status)).Inc()
	}
	m.broadcaster.EmitAlertUpdated(a.ID, a.Status, actor, at)
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, id string) (*model.Alert, error) {
	return m.store.Get(ctx, id)
}

// Stats counts alerts by status and severity. An empty farmID counts all farms.
func (m *Manager) Stats(ctx context.Context, farmID string) (*Stats, error) {
	byStatus, bySeverity, err := m.store.Counts(ctx, farmID)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	s := &Stats{
		BySeverity:   bySeverity,
		Active:       byStatus[model.AlertActive],
		Acknowledged: byStatus[model.AlertAcknowledged],
		Resolved:     byStatus[model.AlertResolved],
	}
	if s.BySeverity == nil {
		s.BySeverity = map[model.AlertSeverity]int64{}
	}
	s.Total = s.Active + s.Acknowledged + s.Resolved
	return s, nil
}

// Wait blocks until every pending notification has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
