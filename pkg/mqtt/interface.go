package mqtt

import "context"

// ClientInterface is the broker session used by the ingestion client and the
// simulator. It enables testing through the mock package.
type ClientInterface interface {
	// Subscribe registers handler for a topic filter; it survives reconnects.
	Subscribe(filter string, handler Handler) error

	// Publish sends a payload on topic.
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error

	// Start launches the background connection loop.
	Start(ctx context.Context) error

	// IsConnected reports whether the session is up.
	IsConnected() bool

	// Close ends the session.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
