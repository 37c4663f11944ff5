package monitoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/internal/ingestion"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/internal/storage/memory"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/payload"
)

type failingReadings struct {
	*memory.ReadingStore
	err error
}

func (f *failingReadings) SaveReading(context.Context, *model.SensorReading) error {
	return f.err
}

type recordingSink struct {
	mu      sync.Mutex
	written []model.SensorReading
	err     error
}

func (s *recordingSink) Write(_ context.Context, r *model.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, *r)
	return s.err
}

func (s *recordingSink) Close() {}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func events(c *gateway.Client) []string {
	var names []string
	for {
		select {
		case raw := <-c.Frames():
			var f gateway.Frame
			Expect(json.Unmarshal(raw, &f)).To(Succeed())
			names = append(names, f.Event)
		default:
			return names
		}
	}
}

var _ = Describe("Handler", func() {
	var (
		ctx      context.Context
		barns    *memory.BarnDirectory
		readings *memory.ReadingStore
		alertDB  *memory.AlertStore
		hub      *gateway.Hub
		manager  *alerts.Manager
		sink     *recordingSink
		handler  *monitoring.Handler
		viewer   *gateway.Client
		ts       time.Time
	)

	danger := func(sensor, barn string) payload.Reading {
		return payload.Reading{
			SensorID:    sensor,
			BarnID:      barn,
			MethanePpm:  1500,
			CO2Ppm:      3500,
			NH3Ppm:      30,
			Temperature: 24,
			Humidity:    55,
			Timestamp:   ts,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		ts = time.Now().UTC().Truncate(time.Second)
		barns = memory.NewBarnDirectory(model.Barn{ID: "B1", Code: "BARN-A", FarmID: "F1", Name: "North"})
		readings = memory.NewReadingStore()
		alertDB = memory.NewAlertStore()
		sink = &recordingSink{}

		var err error
		hub, err = gateway.NewHub(&gateway.HubConfig{Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
		viewer, err = hub.Register("viewer")
		Expect(err).NotTo(HaveOccurred())
		hub.Subscribe("viewer", "B1")

		manager, err = alerts.NewManager(&alerts.ManagerConfig{
			Logger:      logger.Discard(),
			Store:       alertDB,
			Broadcaster: hub,
		})
		Expect(err).NotTo(HaveOccurred())

		handler, err = monitoring.NewHandler(&monitoring.HandlerConfig{
			Logger:      logger.Discard(),
			Barns:       barns,
			Readings:    readings,
			Broadcaster: hub,
			Alerter:     manager,
			Sink:        sink,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewHandler", func() {
		It("should validate its configuration", func() {
			_, err := monitoring.NewHandler(nil)
			Expect(err).To(MatchError(ContainSubstring("handler config cannot be nil")))

			_, err = monitoring.NewHandler(&monitoring.HandlerConfig{
				Logger: logger.Discard(), Readings: readings, Broadcaster: hub, Alerter: manager,
			})
			Expect(err).To(MatchError(ContainSubstring("barn directory cannot be nil")))

			_, err = monitoring.NewHandler(&monitoring.HandlerConfig{
				Logger: logger.Discard(), Barns: barns, Readings: readings, Broadcaster: hub,
			})
			Expect(err).To(MatchError(ContainSubstring("alerter cannot be nil")))
		})
	})

	Describe("HandleReading", func() {
		It("should store, emit and alert on a dangerous reading", func() {
			Expect(handler.HandleReading(ctx, danger("GAS-001", "B1"))).To(Succeed())

			stored := readings.All()
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].AlertLevel).To(Equal("danger"))
			Expect(stored[0].BarnID).To(Equal("B1"))
			Expect(stored[0].ExpireAt).To(Equal(ts.Add(model.RetentionPeriod)))

			active := alertDB.Active("B1")
			Expect(active).To(HaveLen(1))
			Expect(active[0].FarmID).To(Equal("F1"))
			Expect(active[0].Severity).To(Equal(model.SeverityCritical))
			Expect(active[0].Title).To(Equal("Critical Gas Levels Detected"))
			Expect(active[0].Message).To(ContainSubstring("Methane: 1500 ppm"))

			Expect(events(viewer)).To(Equal([]string{
				gateway.EventSensorReading,
				gateway.EventSensorReadingGlobal,
				gateway.EventAlertNew,
				gateway.EventAlertNewBarn,
			}))
			Expect(sink.Len()).To(Equal(1))
		})

		It("should not raise a second alert while one is active", func() {
			Expect(handler.HandleReading(ctx, danger("GAS-001", "B1"))).To(Succeed())
			events(viewer)

			Expect(handler.HandleReading(ctx, danger("GAS-002", "B1"))).To(Succeed())

			Expect(readings.All()).To(HaveLen(2))
			Expect(alertDB.Active("B1")).To(HaveLen(1))
			Expect(events(viewer)).To(Equal([]string{
				gateway.EventSensorReading,
				gateway.EventSensorReadingGlobal,
			}))
		})

		It("should raise exactly one alert under concurrent dangerous readings", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(handler.HandleReading(ctx, danger("GAS-001", "B1"))).To(Succeed())
				}()
			}
			wg.Wait()

			Expect(readings.All()).To(HaveLen(20))
			Expect(alertDB.Active("B1")).To(HaveLen(1))
		})

		It("should resolve a barn by code and store its id", func() {
			r := danger("GAS-001", "BARN-A")
			r.MethanePpm, r.CO2Ppm, r.NH3Ppm = 600, 1000, 5

			Expect(handler.HandleReading(ctx, r)).To(Succeed())

			stored := readings.All()
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].BarnID).To(Equal("B1"))
			Expect(stored[0].AlertLevel).To(Equal("warning"))
			Expect(alertDB.Len()).To(BeZero())
		})

		It("should drop readings for unknown barns", func() {
			Expect(handler.HandleReading(ctx, danger("GAS-001", "nowhere"))).To(Succeed())

			Expect(readings.All()).To(BeEmpty())
			Expect(alertDB.Len()).To(BeZero())
			Expect(events(viewer)).To(BeEmpty())
		})

		It("should not emit or alert when the reading cannot be stored", func() {
			h, err := monitoring.NewHandler(&monitoring.HandlerConfig{
				Logger:      logger.Discard(),
				Barns:       barns,
				Readings:    &failingReadings{ReadingStore: readings, err: errors.New("disk full")},
				Broadcaster: hub,
				Alerter:     manager,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(h.HandleReading(ctx, danger("GAS-001", "B1"))).To(MatchError(ContainSubstring("disk full")))
			Expect(events(viewer)).To(BeEmpty())
			Expect(alertDB.Len()).To(BeZero())
		})

		It("should keep going when the mirror fails", func() {
			sink.err = errors.New("influx down")

			Expect(handler.HandleReading(ctx, danger("GAS-001", "B1"))).To(Succeed())
			Expect(readings.All()).To(HaveLen(1))
		})
	})

	Describe("Register", func() {
		It("should receive readings from the dispatcher until unregistered", func() {
			dispatcher := ingestion.NewDispatcher(logger.Discard(), nil)
			handler.Register(dispatcher)
			handler.Register(dispatcher)

			dispatcher.DispatchReading(ctx, danger("GAS-001", "B1"))
			Expect(readings.All()).To(HaveLen(1))

			handler.Unregister()
			dispatcher.DispatchReading(ctx, danger("GAS-001", "B1"))
			Expect(readings.All()).To(HaveLen(1))
		})
	})

	Describe("ListReadings", func() {
		BeforeEach(func() {
			for i := 0; i < 5; i++ {
				r := danger("GAS-001", "B1")
				r.Timestamp = ts.Add(time.Duration(i) * time.Minute)
				Expect(handler.HandleReading(ctx, r)).To(Succeed())
			}
		})

		It("should page through a barn newest first", func() {
			page, total, next, err := handler.ListReadings(ctx, "B1", 0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(5)))
			Expect(page).To(HaveLen(2))
			Expect(page[0].Timestamp).To(Equal(ts.Add(4 * time.Minute)))
			Expect(next).To(Equal(2))

			page, _, next, err = handler.ListReadings(ctx, "B1", 4, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(1))
			Expect(next).To(Equal(-1))
		})

		It("should require a barn id", func() {
			_, _, _, err := handler.ListReadings(ctx, "", 0, 0)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PurgeExpired", func() {
		It("should delete readings past retention", func() {
			Expect(handler.HandleReading(ctx, danger("GAS-001", "B1"))).To(Succeed())

			n, err := handler.PurgeExpired(ctx, ts.Add(model.RetentionPeriod-time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			n, err = handler.PurgeExpired(ctx, ts.Add(model.RetentionPeriod))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})
	})
})
