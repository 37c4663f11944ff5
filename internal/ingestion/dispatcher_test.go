package ingestion_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/ingestion"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/payload"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		dispatcher *ingestion.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		dispatcher = ingestion.NewDispatcher(logger.Discard(), nil)
	})

	It("should call every reading callback", func() {
		var got []string
		dispatcher.OnSensorReading(func(_ context.Context, r payload.Reading) error {
			got = append(got, "first:"+r.SensorID)
			return nil
		})
		dispatcher.OnSensorReading(func(_ context.Context, r payload.Reading) error {
			got = append(got, "second:"+r.SensorID)
			return nil
		})

		dispatcher.DispatchReading(ctx, payload.Reading{SensorID: "GAS-001"})

		Expect(got).To(Equal([]string{"first:GAS-001", "second:GAS-001"}))
	})

	It("should isolate failing and panicking callbacks", func() {
		var reached atomic.Int32
		dispatcher.OnDeviceStatus(func(context.Context, string, payload.StatusPayload) error {
			return errors.New("boom")
		})
		dispatcher.OnDeviceStatus(func(context.Context, string, payload.StatusPayload) error {
			panic("kaboom")
		})
		dispatcher.OnDeviceStatus(func(_ context.Context, id string, p payload.StatusPayload) error {
			Expect(id).To(Equal("GAS-001"))
			Expect(p.Status).To(Equal("online"))
			reached.Add(1)
			return nil
		})

		Expect(func() {
			dispatcher.DispatchStatus(ctx, "GAS-001", payload.StatusPayload{Status: "online"})
		}).NotTo(Panic())
		Expect(reached.Load()).To(Equal(int32(1)))
	})

	It("should remove exactly one registration on unsubscribe", func() {
		var a, b atomic.Int32
		subA := dispatcher.OnDeviceHeartbeat(func(context.Context, string, payload.HeartbeatPayload) error {
			a.Add(1)
			return nil
		})
		dispatcher.OnDeviceHeartbeat(func(context.Context, string, payload.HeartbeatPayload) error {
			b.Add(1)
			return nil
		})

		subA.Unsubscribe()
		subA.Unsubscribe()
		dispatcher.DispatchHeartbeat(ctx, "GAS-001", payload.HeartbeatPayload{})

		Expect(a.Load()).To(BeZero())
		Expect(b.Load()).To(Equal(int32(1)))
	})

	It("should keep classes apart", func() {
		var readings, errs atomic.Int32
		dispatcher.OnSensorReading(func(context.Context, payload.Reading) error {
			readings.Add(1)
			return nil
		})
		dispatcher.OnDeviceError(func(context.Context, string, payload.ErrorPayload) error {
			errs.Add(1)
			return nil
		})

		dispatcher.DispatchError(ctx, "RFID-001", payload.ErrorPayload{Error: "antenna"})

		Expect(readings.Load()).To(BeZero())
		Expect(errs.Load()).To(Equal(int32(1)))
	})

	It("should allow callbacks to unsubscribe while dispatching", func() {
		var calls atomic.Int32
		var sub ingestion.Subscription
		sub = dispatcher.OnSensorReading(func(context.Context, payload.Reading) error {
			calls.Add(1)
			sub.Unsubscribe()
			return nil
		})

		dispatcher.DispatchReading(ctx, payload.Reading{})
		dispatcher.DispatchReading(ctx, payload.Reading{})

		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("should be safe under concurrent registration and dispatch", func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				sub := dispatcher.OnSensorReading(func(context.Context, payload.Reading) error { return nil })
				sub.Unsubscribe()
			}()
			go func() {
				defer wg.Done()
				dispatcher.DispatchReading(ctx, payload.Reading{})
			}()
		}
		wg.Wait()
	})
})
