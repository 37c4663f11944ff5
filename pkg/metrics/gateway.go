package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics contains Prometheus metrics for the broadcast gateway.
type GatewayMetrics struct {
	ConnectedClients prometheus.Gauge
	Subscriptions    prometheus.Gauge
	EventsEmitted    *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	RelayMessages    *prometheus.CounterVec
}

// NewGatewayMetrics creates and registers gateway metrics.
func NewGatewayMetrics(namespace string) *GatewayMetrics {
	m := &GatewayMetrics{
		ConnectedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "connected_clients",
				Help:      "Number of connected websocket clients",
			},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "room_subscriptions",
				Help:      "Number of client to barn room memberships",
			},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "events_emitted_total",
				Help:      "Total number of events fanned out to clients",
			},
			[]string{"event"},
		),
		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "frames_dropped_total",
				Help:      "Total number of frames dropped for slow clients",
			},
		),
		RelayMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "relay_messages_total",
				Help:      "Total number of events exchanged through the redis relay",
			},
			[]string{"direction"}, // direction: published, received
		),
	}

	MustRegister(
		m.ConnectedClients,
		m.Subscriptions,
		m.EventsEmitted,
		m.FramesDropped,
		m.RelayMessages,
	)

	return m
}
