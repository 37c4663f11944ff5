package mq

import (
	"context"
)

// Publisher is the publishing side of the client. Alert notifiers depend on
// it so tests can swap in the mock.
type Publisher interface {
	// Push publishes data and waits for the broker confirm, retrying with
	// backoff while disconnected.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes without waiting for a confirm.
	UnsafePush(ctx context.Context, data []byte) error

	// Close shuts down the channel and connection.
	Close() error
}

var _ Publisher = (*Client)(nil)
