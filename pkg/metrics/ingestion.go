package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestionMetrics contains Prometheus metrics for the MQTT ingestion client.
type IngestionMetrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	CallbackFailures  *prometheus.CounterVec
	InFlight          prometheus.Gauge
	ConnectionStatus  prometheus.Gauge
	ReconnectAttempts prometheus.Counter
}

// NewIngestionMetrics creates and registers ingestion metrics.
func NewIngestionMetrics(namespace string) *IngestionMetrics {
	m := &IngestionMetrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "messages_received_total",
				Help:      "Total number of MQTT messages received",
			},
			[]string{"class"}, // class: gas_reading, device_status, device_heartbeat, device_error, unknown
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "messages_dropped_total",
				Help:      "Total number of MQTT messages dropped before dispatch",
			},
			[]string{"class", "reason"}, // reason: routing, malformed, invalid
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent running every callback for one message",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"class"},
		),
		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "callback_failures_total",
				Help:      "Total number of callbacks that returned an error or panicked",
			},
			[]string{"class"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "messages_in_flight",
				Help:      "Number of MQTT messages currently being handled",
			},
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "connection_status",
				Help:      "Current broker connection status (1=connected, 0=disconnected)",
			},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of broker reconnection attempts",
			},
		),
	}

	MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.DispatchDuration,
		m.CallbackFailures,
		m.InFlight,
		m.ConnectionStatus,
		m.ReconnectAttempts,
	)

	return m
}
