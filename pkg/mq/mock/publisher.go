// Package mock provides a recording mq.Publisher for tests.
package mock

import (
	"context"
	"sync"

	"procodus.dev/barn-monitor/pkg/mq"
)

// Publisher is a mock implementation of mq.Publisher. It records every
// payload and returns the configured error.
type Publisher struct {
	mu sync.Mutex

	// PushFunc is called when Push is invoked. If nil, returns PushError.
	PushFunc func(ctx context.Context, data []byte) error
	// PushError is returned by Push if PushFunc is nil.
	PushError error
	// Pushed holds the payload of every Push call.
	Pushed [][]byte

	// UnsafePushError is returned by UnsafePush.
	UnsafePushError error
	// UnsafePushed holds the payload of every UnsafePush call.
	UnsafePushed [][]byte

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls counts Close calls.
	CloseCalls int
}

// NewPublisher creates a mock that accepts every message.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Push implements mq.Publisher.
func (m *Publisher) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.Pushed = append(m.Pushed, append([]byte(nil), data...))
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// UnsafePush implements mq.Publisher.
func (m *Publisher) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePushed = append(m.UnsafePushed, append([]byte(nil), data...))
	return m.UnsafePushError
}

// Close implements mq.Publisher.
func (m *Publisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Messages returns a copy of the pushed payloads.
func (m *Publisher) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.Pushed))
	copy(out, m.Pushed)
	return out
}

var _ mq.Publisher = (*Publisher)(nil)
