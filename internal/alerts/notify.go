package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/mq"
)

// Notifier delivers a new alert to stakeholders outside the process.
type Notifier interface {
	Notify(ctx context.Context, a *model.Alert) error
	Name() string
}

// Envelope is the notification body shared by every notifier.
type Envelope struct {
	CreatedAt time.Time           `json:"createdAt"`
	AlertID   string              `json:"alertId"`
	BarnID    string              `json:"barnId"`
	FarmID    string              `json:"farmId"`
	Severity  model.AlertSeverity `json:"severity"`
	Subject   string              `json:"subject"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
}

// NewEnvelope builds the notification body for a.
func NewEnvelope(a *model.Alert) Envelope {
	return Envelope{
		CreatedAt: a.CreatedAt,
		AlertID:   a.ID,
		BarnID:    a.BarnID,
		FarmID:    a.FarmID,
		Severity:  a.Severity,
		Subject:   Subject(a),
		Title:     a.Title,
		Message:   a.Message,
	}
}

// Subject is the headline used by downstream mail and chat relays.
func Subject(a *model.Alert) string {
	if a.Severity == model.SeverityCritical {
		return "CRITICAL Livestock Monitor Alert: " + a.Title
	}
	return "Livestock Monitor Alert: " + a.Title
}

// AMQPNotifier publishes envelopes onto a RabbitMQ queue.
type AMQPNotifier struct {
	publisher mq.Publisher
}

// NewAMQPNotifier creates a notifier on top of publisher.
func NewAMQPNotifier(publisher mq.Publisher) (*AMQPNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &AMQPNotifier{publisher: publisher}, nil
}

// Name implements Notifier.
func (n *AMQPNotifier) Name() string { return "amqp" }

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, a *model.Alert) error {
	body, err := json.Marshal(NewEnvelope(a))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.publisher.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// WebhookNotifier POSTs envelopes to an HTTP endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a notifier that posts to url with a small
// retry budget.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{client: client, url: url}, nil
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, a *model.Alert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(NewEnvelope(a)).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}

var (
	_ Notifier = (*AMQPNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
