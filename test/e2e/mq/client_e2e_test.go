// Package mq provides end-to-end tests for the RabbitMQ notification publisher.
package mq

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/model"
	clientmq "procodus.dev/barn-monitor/pkg/mq"
)

// consumer reads a queue over its own connection, standing in for the
// downstream mail and chat relays.
type consumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func newConsumer(queueName string) *consumer {
	GinkgoHelper()
	conn, err := amqp.Dial(rabbitmqURL)
	Expect(err).NotTo(HaveOccurred())
	ch, err := conn.Channel()
	Expect(err).NotTo(HaveOccurred())

	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	Expect(err).NotTo(HaveOccurred())
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	Expect(err).NotTo(HaveOccurred())

	return &consumer{conn: conn, channel: ch, deliveries: deliveries}
}

func (c *consumer) next() amqp.Delivery {
	GinkgoHelper()
	var d amqp.Delivery
	Eventually(c.deliveries, 5*time.Second).Should(Receive(&d))
	Expect(d.Ack(false)).To(Succeed())
	return d
}

func (c *consumer) close() {
	_ = c.channel.Close()
	_ = c.conn.Close()
}

var _ = Describe("MQ Client E2E", func() {
	var (
		ctx       context.Context
		client    *clientmq.Client
		queueName string
	)

	newClient := func(url string) *clientmq.Client {
		c, err := clientmq.New(clientmq.Config{
			Logger:    testLogger,
			URL:       url,
			QueueName: queueName,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		// Unique queue per test.
		queueName = "test-queue-" + time.Now().Format("20060102-150405.000")
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Close()
			client = nil
		}
	})

	Describe("Configuration", func() {
		It("should reject incomplete configuration", func() {
			_, err := clientmq.New(clientmq.Config{URL: rabbitmqURL, QueueName: queueName})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))

			_, err = clientmq.New(clientmq.Config{Logger: testLogger, QueueName: queueName})
			Expect(err).To(MatchError(ContainSubstring("URL cannot be empty")))

			_, err = clientmq.New(clientmq.Config{Logger: testLogger, URL: rabbitmqURL})
			Expect(err).To(MatchError(ContainSubstring("queue name cannot be empty")))
		})
	})

	Describe("Connection", func() {
		It("should connect to RabbitMQ successfully", func() {
			client = newClient(rabbitmqURL)
			Eventually(client.IsReady, 10*time.Second).Should(BeTrue())
		})

		It("should keep retrying an unreachable broker in the background", func() {
			invalid := newClient("amqp://invalid:5672")
			Consistently(invalid.IsReady, 500*time.Millisecond).Should(BeFalse())
			_ = invalid.Close()
		})
	})

	Describe("Publishing", func() {
		var sub *consumer

		BeforeEach(func() {
			client = newClient(rabbitmqURL)
			Eventually(client.IsReady, 10*time.Second).Should(BeTrue())
			sub = newConsumer(queueName)
		})

		AfterEach(func() {
			sub.close()
		})

		It("should deliver a confirmed message with its properties", func() {
			Expect(client.Push(ctx, []byte(`{"hello":"barn"}`))).To(Succeed())

			d := sub.next()
			Expect(d.Body).To(MatchJSON(`{"hello":"barn"}`))
			Expect(d.ContentType).To(Equal("application/json"))
			Expect(d.DeliveryMode).To(Equal(amqp.Persistent))
		})

		It("should deliver messages in publish order", func() {
			for _, msg := range []string{"first", "second", "third"} {
				Expect(client.Push(ctx, []byte(msg))).To(Succeed())
			}

			Expect(string(sub.next().Body)).To(Equal("first"))
			Expect(string(sub.next().Body)).To(Equal("second"))
			Expect(string(sub.next().Body)).To(Equal("third"))
		})

		It("should preserve binary and empty bodies", func() {
			binary := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}
			Expect(client.Push(ctx, binary)).To(Succeed())
			Expect(client.Push(ctx, []byte{})).To(Succeed())

			Expect(sub.next().Body).To(Equal(binary))
			Expect(sub.next().Body).To(BeEmpty())
		})

		It("should publish without waiting for a confirm", func() {
			Expect(client.UnsafePush(ctx, []byte("fire and forget"))).To(Succeed())
			Expect(string(sub.next().Body)).To(Equal("fire and forget"))
		})

		It("should carry alert notifications end to end", func() {
			notifier, err := alerts.NewAMQPNotifier(client)
			Expect(err).NotTo(HaveOccurred())

			alert := &model.Alert{
				ID:        "6f1c2c1e-0000-4000-8000-000000000001",
				Type:      model.AlertTypeGasLevel,
				Severity:  model.SeverityCritical,
				BarnID:    "B1",
				FarmID:    "F1",
				Title:     "Dangerous Gas Levels Detected",
				Message:   "Dangerous gas levels detected in barn.",
				Status:    model.AlertActive,
				CreatedAt: time.Now().UTC(),
			}
			Expect(notifier.Notify(ctx, alert)).To(Succeed())

			var envelope alerts.Envelope
			Expect(json.Unmarshal(sub.next().Body, &envelope)).To(Succeed())
			Expect(envelope.AlertID).To(Equal(alert.ID))
			Expect(envelope.Subject).To(Equal("CRITICAL Livestock Monitor Alert: Dangerous Gas Levels Detected"))
		})
	})

	Describe("Error Handling", func() {
		It("should fail fast on an unsafe push before connecting", func() {
			client = newClient("amqp://invalid:5672")
			Expect(client.UnsafePush(ctx, []byte("test"))).To(HaveOccurred())
		})

		It("should honor a canceled context while disconnected", func() {
			client = newClient("amqp://invalid:5672")
			cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			Expect(client.Push(cctx, []byte("test"))).To(MatchError(context.DeadlineExceeded))
		})
	})

	Describe("Resource Cleanup", func() {
		It("should close client cleanly", func() {
			client = newClient(rabbitmqURL)
			Eventually(client.IsReady, 10*time.Second).Should(BeTrue())

			Expect(client.Close()).To(Succeed())
			client = nil
		})

		It("should report a double close", func() {
			client = newClient(rabbitmqURL)
			Eventually(client.IsReady, 10*time.Second).Should(BeTrue())

			Expect(client.Close()).To(Succeed())
			Expect(client.Close()).To(HaveOccurred())
			client = nil
		})
	})
})
