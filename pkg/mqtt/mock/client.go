// Package mock provides an in-memory mqtt.ClientInterface for tests.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"procodus.dev/barn-monitor/pkg/mqtt"
)

// Message is a payload recorded by Publish.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is a mock implementation of mqtt.ClientInterface. Deliver routes an
// inbound message to every matching subscription, the way a broker would.
type Client struct {
	mu sync.Mutex

	handlers  map[string]mqtt.Handler
	published []Message
	connected bool
	started   bool
	closed    bool

	// PublishError is returned by Publish when set.
	PublishError error
	// SubscribeError is returned by Subscribe when set.
	SubscribeError error
	// CloseCalls counts Close calls.
	CloseCalls int
}

// NewClient returns a mock that reports connected once started.
func NewClient() *Client {
	return &Client{handlers: make(map[string]mqtt.Handler)}
}

// Subscribe implements mqtt.ClientInterface.
func (m *Client) Subscribe(filter string, handler mqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubscribeError != nil {
		return m.SubscribeError
	}
	m.handlers[filter] = handler
	return nil
}

// Publish implements mqtt.ClientInterface.
func (m *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishError != nil {
		return m.PublishError
	}
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, Message{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

// Start implements mqtt.ClientInterface.
func (m *Client) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return mqtt.ErrClosed
	}
	if m.started {
		return mqtt.ErrAlreadyStarted
	}
	m.started = true
	m.connected = true
	return nil
}

// IsConnected implements mqtt.ClientInterface.
func (m *Client) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Close implements mqtt.ClientInterface.
func (m *Client) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	if m.closed {
		return mqtt.ErrClosed
	}
	m.closed = true
	m.connected = false
	return nil
}

// SetConnected flips the reported session state.
func (m *Client) SetConnected(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = up
}

// Filters returns the registered topic filters.
func (m *Client) Filters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.handlers))
	for f := range m.handlers {
		out = append(out, f)
	}
	return out
}

// Published returns a copy of every published message.
func (m *Client) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

// Deliver hands payload to each handler whose filter matches topic. It
// returns an error when nothing matched.
func (m *Client) Deliver(topic string, payload []byte) error {
	m.mu.Lock()
	var matched []mqtt.Handler
	for filter, h := range m.handlers {
		if mqtt.Matches(filter, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		return errors.New("no subscription matches " + strings.TrimSpace(topic))
	}
	for _, h := range matched {
		h(topic, payload)
	}
	return nil
}

var _ mqtt.ClientInterface = (*Client)(nil)
