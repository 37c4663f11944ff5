package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
)

// DefaultRelayChannel is the redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "barn-monitor:gateway:events"

const relayPublishTimeout = 2 * time.Second

var (
	_ alerts.Broadcaster     = (*Relay)(nil)
	_ monitoring.Broadcaster = (*Relay)(nil)
)

// RelayConfig holds the configuration for a Relay.
type RelayConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.GatewayMetrics
	Redis   *redis.Client
	Hub     *Hub
	Channel string
}

// Relay publishes every emit on a redis channel and replays what arrives on
// that channel into the local hub, so every instance serves every room.
type Relay struct {
	emitter

	logger  *slog.Logger
	metrics *metrics.GatewayMetrics
	redis   *redis.Client
	hub     *Hub
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRelay creates a relay. Nothing is subscribed until Start.
func NewRelay(cfg *RelayConfig) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("relay config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Hub == nil {
		return nil, errors.New("hub cannot be nil")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRelayChannel
	}

	r := &Relay{
		logger:  logger.Component(cfg.Logger, "gateway-relay"),
		metrics: cfg.Metrics,
		redis:   cfg.Redis,
		hub:     cfg.Hub,
		channel: channel,
	}
	r.emitter = emitter{logger: r.logger, send: r.publish}
	return r, nil
}

// Start subscribes to the channel and begins replaying events. It returns
// once redis has confirmed the subscription.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return errors.New("relay already started")
	}

	pubsub := r.redis.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.pubsub = pubsub

	r.wg.Add(1)
	go r.consume(pubsub.Channel())

	r.logger.Info("relay started", "channel", r.channel)
	return nil
}

func (r *Relay) consume(ch <-chan *redis.Message) {
	defer r.wg.Done()

	for msg := range ch {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Warn("discarding malformed relay message", "error", err)
			continue
		}
		if r.metrics != nil {
			r.metrics.RelayMessages.WithLabelValues("received").Inc()
		}
		r.hub.Dispatch(env)
	}
}

// publish falls back to local delivery when redis is unavailable so that
// this instance's viewers still see the event.
func (r *Relay) publish(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to encode relay message", "event", env.Event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	if err := r.redis.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed, delivering locally", "event", env.Event, "error", err)
		r.hub.Dispatch(env)
		return
	}
	if r.metrics != nil {
		r.metrics.RelayMessages.WithLabelValues("published").Inc()
	}
}

// Close unsubscribes and waits for the replay loop to finish.
func (r *Relay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	r.wg.Wait()
	r.logger.Info("relay stopped")
	return err
}
