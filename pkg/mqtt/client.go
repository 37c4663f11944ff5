// Package mqtt wraps the paho MQTT client with a single long-lived session,
// bounded exponential reconnect and automatic re-subscription.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/barn-monitor/pkg/logger"
)

const (
	defaultQoS                  = 1
	defaultKeepAlive            = 60 * time.Second
	defaultConnectTimeout       = 10 * time.Second
	defaultMaxReconnectAttempts = 10
	disconnectQuiesceMillis     = 250
)

var (
	// ErrNotConnected is returned by Publish while the session is down.
	ErrNotConnected = errors.New("not connected to the MQTT broker")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("mqtt client already started")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mqtt client is closed")
)

// Handler receives every message matching a subscription.
type Handler func(topic string, payload []byte)

// Config holds the configuration for a Client.
type Config struct {
	Logger *slog.Logger

	// ConnectionStatus and ReconnectAttempts are optional metrics.
	ConnectionStatus  prometheus.Gauge
	ReconnectAttempts prometheus.Counter

	BrokerURL string
	// ClientID is suffixed with the start time in milliseconds so that
	// several instances never take over each other's session.
	ClientID string
	Username string
	Password string

	Backoff              Backoff
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	QoS                  byte
}

// Client owns one broker session. Subscriptions registered before or after
// Start are (re-)issued on every successful connect.
type Client struct {
	mu        sync.Mutex
	cfg       Config
	logger    *slog.Logger
	client    paho.Client
	clientID  string
	subs      map[string]Handler
	lost      chan error
	done      chan struct{}
	wg        sync.WaitGroup
	connected bool
	started   bool
	closed    bool
	attempts  int
}

// New validates cfg and builds a client. No network I/O happens until Start.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("broker URL cannot be empty")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID cannot be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	if cfg.QoS == 0 {
		cfg.QoS = defaultQoS
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	c := &Client{
		cfg:      cfg,
		logger:   logger.Component(cfg.Logger, "mqtt"),
		clientID: fmt.Sprintf("%s-%d", cfg.ClientID, time.Now().UnixMilli()),
		subs:     make(map[string]Handler),
		lost:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(c.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(c.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	c.client = paho.NewClient(opts)

	return c, nil
}

// ClientID returns the session identifier sent to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// Subscribe registers handler for filter. When the session is up the
// subscription is sent immediately; otherwise it is sent on the next connect.
func (c *Client) Subscribe(filter string, handler Handler) error {
	if filter == "" {
		return errors.New("topic filter cannot be empty")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subs[filter] = handler
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.subscribe(filter, handler)
}

// Publish sends payload and waits for the broker acknowledgement allowed by qos.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Attempts returns the number of consecutive failed connection attempts.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Start launches the connection loop and returns immediately. The loop
// keeps retrying until ctx is canceled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Close stops the connection loop and ends the session, giving in-flight
// acknowledgements a short quiesce period.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.client.Disconnect(disconnectQuiesceMillis)
		c.logger.Info("disconnected from MQTT broker")
	}
	c.setStatus(false)
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if err := c.connect(); err != nil {
			delay := c.recordFailure(err)
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case err := <-c.lost:
			c.logger.Warn("connection to MQTT broker lost", "error", err)
			delay := c.recordFailure(err)
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(delay):
			}
		}
	}
}

func (c *Client) connect() error {
	c.logger.Info("connecting to MQTT broker", "broker", c.cfg.BrokerURL, "client_id", c.clientID)

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("connect timed out after %s", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.attempts = 0
	subs := make(map[string]Handler, len(c.subs))
	for filter, h := range c.subs {
		subs[filter] = h
	}
	c.mu.Unlock()

	c.setStatus(true)
	c.logger.Info("connected to MQTT broker")

	for filter, h := range subs {
		if err := c.subscribe(filter, h); err != nil {
			c.logger.Error("failed to subscribe", "topic", filter, "error", err)
		}
	}
	return nil
}

func (c *Client) subscribe(filter string, h Handler) error {
	token := c.client.Subscribe(filter, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe to %s timed out", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}
	c.logger.Info("subscribed", "topic", filter, "qos", c.cfg.QoS)
	return nil
}

// recordFailure counts a failed or lost session and returns how long to
// wait before the next attempt. Reaching the attempt threshold only warns.
func (c *Client) recordFailure(err error) time.Duration {
	c.mu.Lock()
	c.connected = false
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.setStatus(false)
	if c.cfg.ReconnectAttempts != nil {
		c.cfg.ReconnectAttempts.Inc()
	}

	delay := c.cfg.Backoff.Delay(attempt)
	c.logger.Info("reconnecting to MQTT broker", "attempt", attempt, "delay", delay, "error", err)
	if attempt == c.cfg.MaxReconnectAttempts {
		c.logger.Warn("maximum reconnection attempts reached, still retrying",
			"max_attempts", c.cfg.MaxReconnectAttempts)
	}
	return delay
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.lost <- err:
	default:
	}
}

func (c *Client) setStatus(up bool) {
	if c.cfg.ConnectionStatus == nil {
		return
	}
	if up {
		c.cfg.ConnectionStatus.Set(1)
	} else {
		c.cfg.ConnectionStatus.Set(0)
	}
}

// InstallLogger routes paho's internal error, critical and warning output
// through l. It mutates package level state in paho and should be called
// once at startup.
func InstallLogger(l *slog.Logger) {
	paho.ERROR = logger.NewMQTTBridge(l, slog.LevelError)
	paho.CRITICAL = logger.NewMQTTBridge(l, slog.LevelError)
	paho.WARN = logger.NewMQTTBridge(l, slog.LevelWarn)
}
