// Package ingestion consumes sensor and device traffic from the MQTT broker,
// validates it and hands it to the registered callbacks.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/mqtt"
	"procodus.dev/barn-monitor/pkg/payload"
)

// Subscribed topic filters.
const (
	TopicGasReadings     = "sensors/gas/+"
	TopicDeviceStatus    = "livestock/devices/+/status"
	TopicDeviceHeartbeat = "livestock/devices/+/heartbeat"
	TopicDeviceError     = "livestock/devices/+/error"
)

const (
	gasPrefix             = "sensors/gas/"
	devicePrefix          = "livestock/devices/"
	deviceIDSegment       = 2
	defaultDrainTimeout   = 10 * time.Second
	defaultHandlerTimeout = 30 * time.Second
)

var (
	// ErrUnknownTopic is returned by Route for topics outside the subscribed set.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrMissingDeviceID is returned by Route when a device topic has an empty id segment.
	ErrMissingDeviceID = errors.New("device id missing from topic")
)

// Topics returns every filter the client subscribes to.
func Topics() []string {
	return []string{TopicGasReadings, TopicDeviceStatus, TopicDeviceHeartbeat, TopicDeviceError}
}

// Route classifies a topic. Device topics also yield the device id.
func Route(topic string) (class, deviceID string, err error) {
	if strings.HasPrefix(topic, gasPrefix) {
		return ClassGasReading, "", nil
	}
	if !strings.HasPrefix(topic, devicePrefix) {
		return ClassUnknown, "", ErrUnknownTopic
	}

	switch {
	case strings.HasSuffix(topic, "/status"):
		class = ClassDeviceStatus
	case strings.HasSuffix(topic, "/heartbeat"):
		class = ClassDeviceHeartbeat
	case strings.HasSuffix(topic, "/error"):
		class = ClassDeviceError
	default:
		return ClassUnknown, "", ErrUnknownTopic
	}

	deviceID = mqtt.Segment(topic, deviceIDSegment)
	if deviceID == "" {
		return class, "", ErrMissingDeviceID
	}
	return class, deviceID, nil
}

// ClientConfig holds the configuration for the Client.
type ClientConfig struct {
	Logger     *slog.Logger
	Metrics    *metrics.IngestionMetrics
	MQTT       mqtt.ClientInterface
	Dispatcher *Dispatcher
	Validator  *payload.Validator

	// DrainTimeout bounds how long Close waits for in-flight messages.
	DrainTimeout time.Duration
	// HandlerTimeout bounds the context given to callbacks.
	HandlerTimeout time.Duration
}

// Client routes broker messages to the dispatcher. Each message is handled
// on its own goroutine so slow callbacks never hold up the broker session.
type Client struct {
	logger         *slog.Logger
	metrics        *metrics.IngestionMetrics
	mqtt           mqtt.ClientInterface
	dispatcher     *Dispatcher
	validator      *payload.Validator
	drainTimeout   time.Duration
	handlerTimeout time.Duration

	mu       sync.Mutex
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

// NewClient creates a new Client instance.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.MQTT == nil {
		return nil, errors.New("mqtt client cannot be nil")
	}

	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}

	validator := cfg.Validator
	if validator == nil {
		validator = payload.NewValidator()
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}

	return &Client{
		logger:         logger.Component(cfg.Logger, "ingestion"),
		metrics:        cfg.Metrics,
		mqtt:           cfg.MQTT,
		dispatcher:     cfg.Dispatcher,
		validator:      validator,
		drainTimeout:   drain,
		handlerTimeout: handlerTimeout,
	}, nil
}

// Start subscribes to every topic and starts the broker session. Messages
// are processed until Close.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mqtt.ErrClosed
	}
	// Handlers outlive the caller's request scope; Close cancels them.
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	for _, topic := range Topics() {
		if err := c.mqtt.Subscribe(topic, c.onMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	if err := c.mqtt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt session: %w", err)
	}

	c.logger.Info("ingestion client started", "topics", Topics())
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnected()
}

// Publish sends a QoS 1 message, for simulation and diagnostics.
func (c *Client) Publish(ctx context.Context, topic string, body []byte) error {
	return c.mqtt.Publish(ctx, topic, 1, false, body)
}

func (c *Client) onMessage(topic string, body []byte) {
	c.mu.Lock()
	if c.closed || c.ctx == nil {
		c.mu.Unlock()
		c.drop(ClassUnknown, "shutdown")
		return
	}
	c.inflight.Add(1)
	base := c.ctx
	c.mu.Unlock()

	data := append([]byte(nil), body...)
	go func() {
		defer c.inflight.Done()
		c.handle(base, topic, data)
	}()
}

func (c *Client) handle(base context.Context, topic string, body []byte) {
	if c.metrics != nil {
		c.metrics.InFlight.Inc()
		defer c.metrics.InFlight.Dec()
	}

	class, deviceID, err := Route(topic)
	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(class).Inc()
	}
	if err != nil {
		c.logger.Warn("dropping message", "topic", topic, "error", err)
		c.drop(class, "routing")
		return
	}

	ctx, cancel := context.WithTimeout(base, c.handlerTimeout)
	defer cancel()

	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.DispatchDuration.WithLabelValues(class))
		defer timer.ObserveDuration()
	}

	switch class {
	case ClassGasReading:
		reading, err := c.validator.ParseReading(body)
		if err != nil {
			c.logger.Warn("invalid sensor payload", "topic", topic, "error", err)
			c.drop(class, dropReason(err))
			return
		}
		c.logger.Debug("received gas reading", "sensor_id", reading.SensorID, "barn_id", reading.BarnID)
		c.dispatcher.DispatchReading(ctx, reading)

	case ClassDeviceStatus:
		p, err := payload.DecodeStatus(body)
		if err != nil {
			c.logger.Warn("invalid status payload", "device_id", deviceID, "error", err)
			c.drop(class, dropReason(err))
			return
		}
		c.dispatcher.DispatchStatus(ctx, deviceID, p)

	case ClassDeviceHeartbeat:
		p, err := payload.DecodeHeartbeat(body)
		if err != nil {
			c.logger.Warn("invalid heartbeat payload", "device_id", deviceID, "error", err)
			c.drop(class, dropReason(err))
			return
		}
		c.dispatcher.DispatchHeartbeat(ctx, deviceID, p)

	case ClassDeviceError:
		p, err := payload.DecodeError(body)
		if err != nil {
			c.logger.Warn("invalid error payload", "device_id", deviceID, "error", err)
			c.drop(class, dropReason(err))
			return
		}
		c.dispatcher.DispatchError(ctx, deviceID, p)
	}
}

func dropReason(err error) string {
	if errors.Is(err, payload.ErrMalformedJSON) {
		return "malformed"
	}
	return "invalid"
}

func (c *Client) drop(class, reason string) {
	if c.metrics != nil {
		c.metrics.MessagesDropped.WithLabelValues(class, reason).Inc()
	}
}

// Close stops accepting messages, waits up to the drain timeout for
// in-flight handlers and then ends the broker session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mqtt.ErrClosed
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info("stopping ingestion client")

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(c.drainTimeout):
		c.logger.Warn("in-flight messages did not finish in time", "timeout", c.drainTimeout)
	}
	if cancel != nil {
		cancel()
	}

	if err := c.mqtt.Close(); err != nil && !errors.Is(err, mqtt.ErrClosed) {
		return fmt.Errorf("failed to close mqtt session: %w", err)
	}
	c.logger.Info("ingestion client stopped")
	return nil
}
