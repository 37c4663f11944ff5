package devices_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/storage/memory"
	"procodus.dev/barn-monitor/pkg/logger"
)

var _ = Describe("Sweeper", func() {
	var (
		ctx     context.Context
		clock   *fakeClock
		tracker *devices.Tracker
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}

		var err error
		tracker, err = devices.NewTracker(&devices.TrackerConfig{
			Logger: logger.Discard(),
			Store:  memory.NewDeviceStore(),
			Clock:  clock.Now,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = tracker.EnsureRegistered(ctx, "GAS-001", model.DeviceTypeGasSensor, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = tracker.Connect(ctx, "GAS-001", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("falls back to the default timeout", func() {
		s, err := devices.NewSweeper(tracker, logger.Discard(), 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Timeout()).To(Equal(devices.DefaultHeartbeatTimeout))
	})

	It("sweeps on demand", func() {
		s, err := devices.NewSweeper(tracker, logger.Discard(), time.Minute, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.RunOnce(ctx)).To(BeZero())
		clock.Advance(2 * time.Minute)
		Expect(s.RunOnce(ctx)).To(Equal(1))
	})

	It("sweeps on every tick until stopped", func() {
		s, err := devices.NewSweeper(tracker, logger.Discard(), time.Minute, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(2 * time.Minute)
		s.Start(ctx)
		defer s.Stop()

		Eventually(func() model.DeviceStatus {
			d, err := tracker.Get(ctx, "GAS-001")
			Expect(err).NotTo(HaveOccurred())
			return d.Status
		}).Should(Equal(model.DeviceStatusOffline))
	})
})
