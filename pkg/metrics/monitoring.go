package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MonitoringMetrics contains Prometheus metrics for the reading pipeline,
// alerting and device tracking.
type MonitoringMetrics struct {
	ReadingsProcessed    *prometheus.CounterVec
	ReadingsDropped      *prometheus.CounterVec
	ProcessingDuration   prometheus.Histogram
	AlertsRaised         prometheus.Counter
	AlertsDeduplicated   prometheus.Counter
	AlertTransitions     *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	DeviceEvents         *prometheus.CounterVec
	StaleDevices         prometheus.Counter
	ReadingsReaped       prometheus.Counter
}

// NewMonitoringMetrics creates and registers monitoring metrics.
func NewMonitoringMetrics(namespace string) *MonitoringMetrics {
	m := &MonitoringMetrics{
		ReadingsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "processed_total",
				Help:      "Total number of gas readings stored",
			},
			[]string{"level"}, // level: normal, warning, danger
		),
		ReadingsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "dropped_total",
				Help:      "Total number of gas readings dropped after validation",
			},
			[]string{"reason"}, // reason: unknown_barn, store_error
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "processing_duration_seconds",
				Help:      "Duration of the reading pipeline from barn lookup to alerting",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AlertsRaised: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "raised_total",
				Help:      "Total number of gas alerts created",
			},
		),
		AlertsDeduplicated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "deduplicated_total",
				Help:      "Total number of danger readings that found an active alert",
			},
		),
		AlertTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "transitions_total",
				Help:      "Total number of alert status changes",
			},
			[]string{"status"},
		),
		NotificationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "notification_failures_total",
				Help:      "Total number of failed downstream alert notifications",
			},
			[]string{"notifier"},
		),
		DeviceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "devices",
				Name:      "events_total",
				Help:      "Total number of device lifecycle events applied",
			},
			[]string{"event"}, // event: registered, connected, disconnected, heartbeat, error
		),
		StaleDevices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "devices",
				Name:      "stale_total",
				Help:      "Total number of devices forced offline by the stale sweep",
			},
		),
		ReadingsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "readings_reaped_total",
				Help:      "Total number of expired readings deleted",
			},
		),
	}

	MustRegister(
		m.ReadingsProcessed,
		m.ReadingsDropped,
		m.ProcessingDuration,
		m.AlertsRaised,
		m.AlertsDeduplicated,
		m.AlertTransitions,
		m.NotificationFailures,
		m.DeviceEvents,
		m.StaleDevices,
		m.ReadingsReaped,
	)

	return m
}
