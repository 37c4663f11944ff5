package simulator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/simulator"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/mqtt/mock"
	"procodus.dev/barn-monitor/pkg/payload"
)

type recordedMovements struct {
	mu     sync.Mutex
	events []map[string]any
	err    error
}

func (r *recordedMovements) PublishEntryExitEvent(_ context.Context, ev map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.events = append(r.events, ev)
	return map[string]any{"success": true}, nil
}

func (r *recordedMovements) Events() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.events...)
}

func topics(broker *mock.Client, prefix string) []string {
	var out []string
	for _, m := range broker.Published() {
		if strings.HasPrefix(m.Topic, prefix) {
			out = append(out, m.Topic)
		}
	}
	return out
}

var _ = Describe("Simulator Server", func() {
	var (
		ctx    context.Context
		broker *mock.Client
		config *simulator.ServerConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		broker = mock.NewClient()
		config = &simulator.ServerConfig{
			Logger:         logger.Discard(),
			MQTT:           broker,
			Barns:          []string{"BARN-001", "BARN-002"},
			SensorsPerBarn: 2,
			Interval:       time.Hour,
			Seed:           42,
		}
	})

	Describe("NewServer", func() {
		It("should create a fleet per barn", func() {
			server, err := simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())

			sensors := server.Fleet().Sensors()
			Expect(sensors).To(HaveLen(4))
			Expect(sensors[0].SensorID).To(Equal("GAS-001"))
			Expect(sensors[0].BarnID).To(Equal("BARN-001"))
			Expect(sensors[3].SensorID).To(Equal("GAS-004"))
			Expect(sensors[3].BarnID).To(Equal("BARN-002"))
			Expect(server.Fleet().Readers()).To(BeEmpty())
		})

		It("should add a reader per barn when movements are published", func() {
			config.Movements = &recordedMovements{}
			server, err := simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Fleet().Readers()).To(HaveLen(2))
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*simulator.ServerConfig), message string) {
				mutate(config)
				server, err := simulator.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring(message)))
				Expect(server).To(BeNil())
			},
			Entry("nil logger", func(c *simulator.ServerConfig) { c.Logger = nil }, "logger"),
			Entry("no broker", func(c *simulator.ServerConfig) { c.MQTT = nil }, "MQTT broker URL"),
			Entry("no barns", func(c *simulator.ServerConfig) { c.Barns = nil }, "barn"),
			Entry("zero sensors", func(c *simulator.ServerConfig) { c.SensorsPerBarn = 0 }, "sensors per barn"),
			Entry("zero interval", func(c *simulator.ServerConfig) { c.Interval = 0 }, "interval"),
			Entry("negative interval", func(c *simulator.ServerConfig) { c.Interval = -time.Second }, "interval"),
			Entry("probability above one", func(c *simulator.ServerConfig) { c.DangerProbability = 1.5 }, "probabilities"),
			Entry("weights above one", func(c *simulator.ServerConfig) {
				c.DangerProbability = 0.6
				c.WarningProbability = 0.6
			}, "probabilities"),
		)

		It("should reject a nil config", func() {
			_, err := simulator.NewServer(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Start", func() {
		var server *simulator.Server

		BeforeEach(func() {
			var err error
			server, err = simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Start(ctx)).To(Succeed())
		})

		AfterEach(func() {
			Expect(server.Shutdown()).To(Succeed())
		})

		It("should announce every sensor online", func() {
			statuses := topics(broker, "livestock/devices/")
			Expect(statuses).To(ConsistOf(
				"livestock/devices/GAS-001/status",
				"livestock/devices/GAS-002/status",
				"livestock/devices/GAS-003/status",
				"livestock/devices/GAS-004/status",
			))

			var msg map[string]any
			Expect(json.Unmarshal(broker.Published()[0].Payload, &msg)).To(Succeed())
			Expect(msg).To(HaveKeyWithValue("status", "online"))
			Expect(msg["metadata"]).To(HaveKeyWithValue("type", "gas_sensor"))
		})

		It("should refuse a second start", func() {
			Expect(server.Start(ctx)).To(HaveOccurred())
		})

		It("should mark every sensor offline on shutdown", func() {
			Expect(server.Shutdown()).To(Succeed())

			var offline int
			for _, m := range broker.Published() {
				st, err := payload.DecodeStatus(m.Payload)
				if err == nil && st.Status == "offline" {
					Expect(st.Reason).To(Equal("intentional"))
					offline++
				}
			}
			Expect(offline).To(Equal(4))
			Expect(broker.IsConnected()).To(BeFalse())
		})
	})

	Describe("Fleet.Tick", func() {
		var server *simulator.Server

		start := func() {
			var err error
			server, err = simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Start(ctx)).To(Succeed())
		}

		AfterEach(func() {
			Expect(server.Shutdown()).To(Succeed())
		})

		It("should publish a valid reading and a heartbeat per sensor", func() {
			start()
			Expect(server.Fleet().Tick(ctx, time.Now())).To(Succeed())

			Expect(topics(broker, "sensors/gas/")).To(HaveLen(4))
			Expect(topics(broker, "livestock/devices/GAS-001/heartbeat")).To(HaveLen(1))

			v := payload.NewValidator()
			for _, m := range broker.Published() {
				if strings.HasPrefix(m.Topic, "sensors/gas/") {
					_, err := v.ParseReading(m.Payload)
					Expect(err).NotTo(HaveOccurred())
					Expect(m.QoS).To(Equal(byte(1)))
				}
			}
		})

		It("should only send heartbeats once per interval", func() {
			start()
			now := time.Now()
			Expect(server.Fleet().Tick(ctx, now)).To(Succeed())
			Expect(server.Fleet().Tick(ctx, now.Add(10*time.Second))).To(Succeed())
			Expect(topics(broker, "livestock/devices/GAS-001/heartbeat")).To(HaveLen(1))

			Expect(server.Fleet().Tick(ctx, now.Add(31*time.Second))).To(Succeed())
			Expect(topics(broker, "livestock/devices/GAS-001/heartbeat")).To(HaveLen(2))
		})

		It("should report faults instead of readings", func() {
			config.ErrorProbability = 1
			start()
			Expect(server.Fleet().Tick(ctx, time.Now())).To(Succeed())

			Expect(topics(broker, "sensors/gas/")).To(BeEmpty())
			errs := topics(broker, "livestock/devices/GAS-002/error")
			Expect(errs).To(HaveLen(1))
		})

		It("should publish danger readings when forced", func() {
			config.DangerProbability = 1
			start()
			Expect(server.Fleet().Tick(ctx, time.Now())).To(Succeed())

			for _, m := range broker.Published() {
				if strings.HasPrefix(m.Topic, "sensors/gas/") {
					r, err := payload.NewValidator().ParseReading(m.Payload)
					Expect(err).NotTo(HaveOccurred())
					Expect(r.MethanePpm).To(BeNumerically(">", 1000))
				}
			}
		})

		It("should return publish failures", func() {
			start()
			broker.PublishError = errors.New("broker gone")
			Expect(server.Fleet().Tick(ctx, time.Now())).To(MatchError(ContainSubstring("broker gone")))
			broker.PublishError = nil
		})
	})

	Describe("Move", func() {
		It("should send reader movements to the monitoring API", func() {
			movements := &recordedMovements{}
			config.Movements = movements
			config.HerdSize = 1
			config.Barns = []string{"B1"}

			server, err := simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Start(ctx)).To(Succeed())
			defer func() { Expect(server.Shutdown()).To(Succeed()) }()

			now := time.Now()
			server.Move(ctx, now)
			server.Move(ctx, now.Add(time.Minute))

			events := movements.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[0]).To(HaveKeyWithValue("eventType", "exit"))
			Expect(events[0]).To(HaveKeyWithValue("readerId", "RFID-READER-001"))
			Expect(events[1]).To(HaveKeyWithValue("eventType", "entry"))
			Expect(events[1]).To(HaveKeyWithValue("duration", 1.0))
		})

		It("should keep going when the API fails", func() {
			movements := &recordedMovements{err: errors.New("unavailable")}
			config.Movements = movements

			server, err := simulator.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Start(ctx)).To(Succeed())
			defer func() { Expect(server.Shutdown()).To(Succeed()) }()

			server.Move(ctx, time.Now())
			Expect(movements.Events()).To(BeEmpty())
		})
	})
})
