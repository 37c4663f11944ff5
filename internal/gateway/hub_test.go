package gateway_test

import (
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
)

// drain returns the frames currently queued for c.
func drain(c *gateway.Client) []gateway.Frame {
	var frames []gateway.Frame
	for {
		select {
		case raw, ok := <-c.Frames():
			if !ok {
				return frames
			}
			var f gateway.Frame
			Expect(json.Unmarshal(raw, &f)).To(Succeed())
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func eventNames(frames []gateway.Frame) []string {
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		names = append(names, f.Event)
	}
	return names
}

var _ = Describe("Hub", func() {
	var hub *gateway.Hub

	BeforeEach(func() {
		var err error
		hub, err = gateway.NewHub(&gateway.HubConfig{Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewHub", func() {
		It("should return error when config is nil", func() {
			h, err := gateway.NewHub(nil)
			Expect(err).To(MatchError(ContainSubstring("hub config cannot be nil")))
			Expect(h).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			h, err := gateway.NewHub(&gateway.HubConfig{})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			Expect(h).To(BeNil())
		})
	})

	Describe("Register", func() {
		It("should count clients and reject duplicate ids", func() {
			_, err := hub.Register("c1")
			Expect(err).NotTo(HaveOccurred())
			_, err = hub.Register("c1")
			Expect(err).To(HaveOccurred())
			Expect(hub.ClientCount()).To(Equal(1))
		})

		It("should close the queue and leave rooms on unregister", func() {
			c, err := hub.Register("c1")
			Expect(err).NotTo(HaveOccurred())
			hub.Subscribe("c1", "B1")

			hub.Unregister("c1")

			Expect(hub.ClientCount()).To(BeZero())
			Expect(hub.RoomSize("B1")).To(BeZero())
			Eventually(c.Frames()).Should(BeClosed())
		})

		It("should ignore unknown ids on unregister", func() {
			Expect(func() { hub.Unregister("nobody") }).NotTo(Panic())
		})
	})

	Describe("Subscribe", func() {
		BeforeEach(func() {
			_, err := hub.Register("c1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should require a barn id", func() {
			Expect(hub.Subscribe("c1", "")).To(Equal(gateway.Ack{Success: false, Message: "barnId is required"}))
			Expect(hub.Unsubscribe("c1", "")).To(Equal(gateway.Ack{Success: false, Message: "barnId is required"}))
		})

		It("should be idempotent", func() {
			Expect(hub.Subscribe("c1", "B1")).To(Equal(gateway.Ack{Success: true, Message: "Subscribed to barn B1"}))
			Expect(hub.Subscribe("c1", "B1")).To(Equal(gateway.Ack{Success: true, Message: "Subscribed to barn B1"}))
			Expect(hub.RoomSize("B1")).To(Equal(1))

			Expect(hub.Unsubscribe("c1", "B1")).To(Equal(gateway.Ack{Success: true, Message: "Unsubscribed from barn B1"}))
			Expect(hub.Unsubscribe("c1", "B1")).To(Equal(gateway.Ack{Success: true, Message: "Unsubscribed from barn B1"}))
			Expect(hub.RoomSize("B1")).To(BeZero())
		})

		It("should reject unknown clients", func() {
			ack := hub.Subscribe("ghost", "B1")
			Expect(ack.Success).To(BeFalse())
			Expect(hub.RoomSize("B1")).To(BeZero())
		})
	})

	Describe("emits", func() {
		var inRoom, elsewhere *gateway.Client

		BeforeEach(func() {
			var err error
			inRoom, err = hub.Register("in-room")
			Expect(err).NotTo(HaveOccurred())
			elsewhere, err = hub.Register("elsewhere")
			Expect(err).NotTo(HaveOccurred())
			hub.Subscribe("in-room", "B1")
			hub.Subscribe("elsewhere", "B2")
		})

		It("should send readings to the barn room and globally", func() {
			ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			hub.EmitReading(&model.SensorReading{
				SensorID:   "GAS-001",
				BarnID:     "B1",
				AlertLevel: "danger",
				MethanePpm: 1500,
				CO2Ppm:     3500,
				NH3Ppm:     30,
				Timestamp:  ts,
			})

			frames := drain(inRoom)
			Expect(eventNames(frames)).To(ConsistOf(gateway.EventSensorReading, gateway.EventSensorReadingGlobal))
			Expect(eventNames(drain(elsewhere))).To(ConsistOf(gateway.EventSensorReadingGlobal))

			var ev gateway.SensorReadingEvent
			Expect(json.Unmarshal(frames[0].Data, &ev)).To(Succeed())
			Expect(ev.SensorID).To(Equal("GAS-001"))
			Expect(ev.BarnID).To(Equal("B1"))
			Expect(ev.AlertLevel).To(Equal("danger"))
			Expect(ev.Reading.MethanePpm).To(Equal(1500.0))
			Expect(ev.Reading.Timestamp.Equal(ts)).To(BeTrue())
		})

		It("should send entry/exit events to the barn room and globally", func() {
			hub.EmitEntryExitEvent(gateway.EntryExitEvent{
				LivestockID: "cow-7",
				BarnID:      "B2",
				EventType:   gateway.DirectionExit,
				Timestamp:   time.Now(),
			})

			Expect(eventNames(drain(inRoom))).To(ConsistOf(gateway.EventEntryExitGlobal))
			Expect(eventNames(drain(elsewhere))).To(ConsistOf(gateway.EventEntryExit, gateway.EventEntryExitGlobal))
		})

		It("should send new alerts to everyone and to the barn room", func() {
			hub.EmitNewAlert(&model.Alert{
				ID:       "a-1",
				BarnID:   "B1",
				FarmID:   "F1",
				Type:     model.AlertTypeGasLevel,
				Severity: model.SeverityCritical,
				Status:   model.AlertActive,
				Title:    "Critical Gas Levels Detected",
			})

			frames := drain(inRoom)
			Expect(eventNames(frames)).To(ConsistOf(gateway.EventAlertNew, gateway.EventAlertNewBarn))
			Expect(eventNames(drain(elsewhere))).To(ConsistOf(gateway.EventAlertNew))

			var ev gateway.AlertNewEvent
			Expect(json.Unmarshal(frames[0].Data, &ev)).To(Succeed())
			Expect(ev.ID).To(Equal("a-1"))
			Expect(ev.Severity).To(Equal("critical"))
			Expect(ev.FarmID).To(Equal("F1"))
		})

		It("should skip the barn room for alerts without a barn", func() {
			hub.EmitNewAlert(&model.Alert{ID: "a-2", FarmID: "F1"})

			Expect(eventNames(drain(inRoom))).To(ConsistOf(gateway.EventAlertNew))
		})

		It("should carry acknowledgement fields on alert updates", func() {
			at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
			hub.EmitAlertUpdated("a-1", model.AlertAcknowledged, "user-1", at)

			frames := drain(elsewhere)
			Expect(eventNames(frames)).To(ConsistOf(gateway.EventAlertUpdated))

			var ev gateway.AlertUpdatedEvent
			Expect(json.Unmarshal(frames[0].Data, &ev)).To(Succeed())
			Expect(ev.AlertID).To(Equal("a-1"))
			Expect(ev.Status).To(Equal("acknowledged"))
			Expect(ev.AcknowledgedBy).To(Equal("user-1"))
			Expect(ev.AcknowledgedAt).NotTo(BeNil())
			Expect(ev.ResolvedAt).To(BeNil())
		})

		It("should carry resolution fields on alert updates", func() {
			hub.EmitAlertUpdated("a-1", model.AlertResolved, "user-2", time.Now())

			var ev gateway.AlertUpdatedEvent
			frames := drain(inRoom)
			Expect(frames).To(HaveLen(1))
			Expect(json.Unmarshal(frames[0].Data, &ev)).To(Succeed())
			Expect(ev.ResolvedBy).To(Equal("user-2"))
			Expect(ev.AcknowledgedAt).To(BeNil())
		})
	})

	Describe("slow clients", func() {
		It("should drop frames instead of blocking", func() {
			small, err := gateway.NewHub(&gateway.HubConfig{Logger: logger.Discard(), SendBuffer: 2})
			Expect(err).NotTo(HaveOccurred())
			c, err := small.Register("slow")
			Expect(err).NotTo(HaveOccurred())

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					small.EmitAlertUpdated("a", model.AlertResolved, "u", time.Now())
				}
			}()
			Eventually(done).Should(BeClosed())

			Expect(drain(c)).To(HaveLen(2))
		})
	})

	Describe("concurrency", func() {
		It("should tolerate churn while emitting", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				id := string(rune('a' + i))
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := hub.Register(id)
					Expect(err).NotTo(HaveOccurred())
					hub.Subscribe(id, "B1")
					hub.Unregister(id)
				}()
				go func() {
					defer wg.Done()
					hub.EmitReading(&model.SensorReading{BarnID: "B1"})
				}()
			}
			wg.Wait()

			Expect(hub.ClientCount()).To(BeZero())
			Expect(hub.RoomSize("B1")).To(BeZero())
		})
	})

	Describe("Close", func() {
		It("should disconnect everyone and refuse new clients", func() {
			c, err := hub.Register("c1")
			Expect(err).NotTo(HaveOccurred())

			hub.Close()

			Eventually(c.Frames()).Should(BeClosed())
			_, err = hub.Register("c2")
			Expect(err).To(HaveOccurred())
		})
	})
})
