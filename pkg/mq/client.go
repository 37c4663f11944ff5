// Package mq provides a RabbitMQ publisher with automatic reconnection and
// publisher confirms. It carries alert notifications to downstream consumers.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/barn-monitor/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errNacked             = errors.New("message was not acknowledged by the broker")
)

// Config holds the configuration for a Client.
type Config struct {
	Logger    *slog.Logger
	Metrics   *metrics.MQMetrics
	URL       string
	QueueName string
	// ContentType is stamped on every publishing (default application/json).
	ContentType string
}

// Client publishes messages onto a single durable queue. It keeps one
// connection and one confirm-mode channel, re-creating both on failure.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	metrics         *metrics.MQMetrics
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	contentType     string
	isReady         bool
	closed          bool
}

// New creates a client and starts connecting in the background. Push waits
// for the connection with backoff, so callers do not need to.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	client := &Client{
		m:           &sync.Mutex{},
		logger:      cfg.Logger.With(slog.String("queue", cfg.QueueName)),
		metrics:     cfg.Metrics,
		queueName:   cfg.QueueName,
		contentType: contentType,
		done:        make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// IsReady reports whether the client currently holds an initialized channel.
func (client *Client) IsReady() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()

	if client.metrics != nil {
		if ready {
			client.metrics.ConnectionStatus.Set(1)
		} else {
			client.metrics.ConnectionStatus.Set(0)
		}
	}
}

// handleReconnect dials until it succeeds, then hands over to handleReInit
// until the connection drops again.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := amqp.Dial(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err, "delay", reconnectDelay)
			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		client.changeConnection(conn)
		client.logger.Info("connected")

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

// handleReInit re-creates the channel after channel errors. It returns true
// when the client is shutting down and false when the connection was lost.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)
			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirm-mode channel and declares the durable queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		client.queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.logger.Info("client init done")
	return nil
}

func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

func (client *Client) changeChannel(channel *amqp.Channel) {
	chanClose := make(chan *amqp.Error, 1)
	confirms := make(chan amqp.Confirmation, 1)
	channel.NotifyClose(chanClose)
	channel.NotifyPublish(confirms)

	client.m.Lock()
	client.channel = channel
	client.notifyChanClose = chanClose
	client.notifyConfirm = confirms
	client.m.Unlock()
}

// Push publishes data and waits for the broker confirm. While the client is
// disconnected, or when a publish is nacked, it retries with exponential
// backoff up to maxRetryAttempts before giving up.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			client.countFailure("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		err := client.publishAndConfirm(ctx, data)
		if err == nil {
			if client.metrics != nil {
				client.metrics.MessagesPushed.WithLabelValues(client.queueName).Inc()
			}
			return nil
		}
		if ctx.Err() != nil {
			client.countFailure("context_canceled")
			return ctx.Err()
		}

		client.logger.Warn("push failed, retrying with backoff",
			"error", err,
			"backoff", backoff,
			"attempt", attempt+1)

		select {
		case <-ctx.Done():
			client.countFailure("context_canceled")
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-time.After(backoff):
		}

		backoff *= backoffMultiplier
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (client *Client) publishAndConfirm(ctx context.Context, data []byte) error {
	if err := client.UnsafePush(ctx, data); err != nil {
		return err
	}

	client.m.Lock()
	confirms := client.notifyConfirm
	client.m.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case confirm := <-confirms:
		if !confirm.Ack {
			return errNacked
		}
		client.logger.Debug("push confirmed", "delivery_tag", confirm.DeliveryTag)
		return nil
	}
}

// UnsafePush publishes without waiting for a confirm. It fails fast with
// errNotConnected when no channel is ready.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	return ch.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  client.contentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

// Close stops the reconnect loop and closes the channel and connection.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	if client.closed {
		return errAlreadyClosed
	}
	client.closed = true
	close(client.done)

	if !client.isReady {
		if client.connection != nil && !client.connection.IsClosed() {
			return client.connection.Close()
		}
		return nil
	}
	client.isReady = false
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	if err := client.channel.Close(); err != nil {
		return err
	}
	return client.connection.Close()
}

func (client *Client) countFailure(reason string) {
	if client.metrics != nil {
		client.metrics.PushFailures.WithLabelValues(client.queueName, reason).Inc()
	}
}
