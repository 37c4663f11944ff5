package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/internal/storage"
)

func gasAlert(barnID, farmID string) *model.Alert {
	return &model.Alert{
		ID:       uuid.NewString(),
		Type:     model.AlertTypeGasLevel,
		Severity: model.SeverityCritical,
		BarnID:   barnID,
		FarmID:   farmID,
		Title:    "Dangerous Gas Levels Detected",
		Message:  "Methane: 1500 ppm",
		Status:   model.AlertActive,
	}
}

var _ = Describe("Backend Database E2E", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("Barn directory", func() {
		It("should resolve seeded barns by id and by code", func() {
			dir := storage.NewBarnDirectory(testDB)

			byID, err := dir.FindByID(ctx, "B-ING")
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.FarmID).To(Equal("FARM-ING"))

			byCode, err := dir.FindByCode(ctx, "BARN-ING")
			Expect(err).NotTo(HaveOccurred())
			Expect(byCode.ID).To(Equal("B-ING"))

			_, err = dir.FindByID(ctx, "NO-SUCH-BARN")
			Expect(err).To(MatchError(monitoring.ErrBarnNotFound))
		})

		It("should update barns on a repeated upsert", func() {
			dir := storage.NewBarnDirectory(testDB)
			Expect(dir.Upsert(ctx, model.Barn{ID: "B-DB", Code: "BARN-DB", FarmID: "FARM-DB"})).To(Succeed())
			Expect(dir.Upsert(ctx, model.Barn{ID: "B-DB", Code: "BARN-DB", FarmID: "FARM-DB", Name: "Renamed"})).To(Succeed())

			b, err := dir.FindByCode(ctx, "BARN-DB")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Name).To(Equal("Renamed"))
		})
	})

	Context("Alert deduplication", func() {
		It("should keep at most one active gas alert per barn under concurrent inserts", func() {
			store := storage.NewAlertStore(testDB)

			const writers = 10
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created int
			)
			for range writers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					ok, err := store.CreateActiveGasAlert(ctx, gasAlert("B-DB-DEDUP", "FARM-DB-DEDUP"))
					Expect(err).NotTo(HaveOccurred())
					if ok {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			Expect(created).To(Equal(1))

			byStatus, bySeverity, err := store.Counts(ctx, "FARM-DB-DEDUP")
			Expect(err).NotTo(HaveOccurred())
			Expect(byStatus).To(HaveKeyWithValue(model.AlertActive, int64(1)))
			Expect(bySeverity).To(HaveKeyWithValue(model.SeverityCritical, int64(1)))
		})

		It("should accept a new active alert once the previous one is resolved", func() {
			store := storage.NewAlertStore(testDB)

			first := gasAlert("B-DB-CYCLE", "FARM-DB-CYCLE")
			ok, err := store.CreateActiveGasAlert(ctx, first)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = store.CreateActiveGasAlert(ctx, gasAlert("B-DB-CYCLE", "FARM-DB-CYCLE"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, err = store.Update(ctx, first.ID, func(a *model.Alert) error {
				a.Status = model.AlertResolved
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			ok, err = store.CreateActiveGasAlert(ctx, gasAlert("B-DB-CYCLE", "FARM-DB-CYCLE"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should pass mutation errors through and report missing alerts", func() {
			store := storage.NewAlertStore(testDB)
			a := gasAlert("B-DB-ERR", "FARM-DB-ERR")
			_, err := store.CreateActiveGasAlert(ctx, a)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Update(ctx, a.ID, func(*model.Alert) error { return alerts.ErrInvalidTransition })
			Expect(err).To(MatchError(alerts.ErrInvalidTransition))

			got, err := store.Get(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.AlertActive))

			_, err = store.Get(ctx, uuid.NewString())
			Expect(err).To(MatchError(alerts.ErrNotFound))
		})
	})

	Context("Devices", func() {
		It("should create once and append logs with state changes", func() {
			store := storage.NewDeviceStore(testDB)
			d := &model.Device{DeviceID: "GAS-DB-001", Type: model.DeviceTypeGasSensor, Status: model.DeviceStatusOffline, IsActive: true}

			created, err := store.Create(ctx, d)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			created, err = store.Create(ctx, &model.Device{DeviceID: "GAS-DB-001", Type: model.DeviceTypeGasSensor})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			now := time.Now().UTC()
			updated, err := store.Apply(ctx, "GAS-DB-001", func(d *model.Device) (bool, *model.DeviceLog) {
				d.Status = model.DeviceStatusOnline
				d.TotalConnections++
				return true, &model.DeviceLog{
					DeviceID:       d.DeviceID,
					EventType:      model.EventConnected,
					Status:         model.DeviceStatusOnline,
					PreviousStatus: model.DeviceStatusOffline,
					Timestamp:      now,
				}
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(model.DeviceStatusOnline))

			unchanged, err := store.Apply(ctx, "GAS-DB-001", func(*model.Device) (bool, *model.DeviceLog) {
				return false, nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(unchanged.TotalConnections).To(Equal(int64(1)))

			logs, err := store.Logs(ctx, "GAS-DB-001", devices.LogQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].EventType).To(Equal(model.EventConnected))

			counts, err := store.CountEvents(ctx, "GAS-DB-001")
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveKeyWithValue(model.EventConnected, int64(1)))

			_, err = store.Apply(ctx, "NO-SUCH-DEVICE", func(*model.Device) (bool, *model.DeviceLog) { return true, nil })
			Expect(err).To(MatchError(devices.ErrNotFound))
		})

		It("should serialize concurrent mutations of one device", func() {
			store := storage.NewDeviceStore(testDB)
			_, err := store.Create(ctx, &model.Device{DeviceID: "GAS-DB-002", Type: model.DeviceTypeGasSensor, Status: model.DeviceStatusOnline, IsActive: true})
			Expect(err).NotTo(HaveOccurred())

			const writers = 20
			var wg sync.WaitGroup
			for range writers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.Apply(ctx, "GAS-DB-002", func(d *model.Device) (bool, *model.DeviceLog) {
						d.ErrorCount++
						return true, nil
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			d, err := store.Get(ctx, "GAS-DB-002")
			Expect(err).NotTo(HaveOccurred())
			Expect(d.ErrorCount).To(Equal(int64(writers)))
		})

		It("should list online devices with old heartbeats as stale", func() {
			store := storage.NewDeviceStore(testDB)
			_, err := store.Create(ctx, &model.Device{DeviceID: "GAS-DB-003", Type: model.DeviceTypeGasSensor, Status: model.DeviceStatusOnline, IsActive: true})
			Expect(err).NotTo(HaveOccurred())

			old := time.Now().Add(-time.Hour).UTC()
			Expect(store.TouchHeartbeat(ctx, "GAS-DB-003", old)).To(Succeed())
			Expect(store.TouchHeartbeat(ctx, "NO-SUCH-DEVICE", old)).To(MatchError(devices.ErrNotFound))

			stale, err := store.ListStale(ctx, time.Now().Add(-30*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			var ids []string
			for _, d := range stale {
				ids = append(ids, d.DeviceID)
			}
			Expect(ids).To(ContainElement("GAS-DB-003"))

			Expect(store.Delete(ctx, "GAS-DB-003")).To(Succeed())
			_, err = store.Get(ctx, "GAS-DB-003")
			Expect(err).To(MatchError(devices.ErrNotFound))
		})
	})

	Context("Readings", func() {
		It("should hide and purge readings past their retention", func() {
			store := storage.NewReadingStore(testDB)
			now := time.Now().UTC()

			fresh := &model.SensorReading{Timestamp: now, SensorID: "GAS-DB-R1", BarnID: "B-DB-READ", AlertLevel: "normal"}
			expired := &model.SensorReading{
				Timestamp:  now.Add(-model.RetentionPeriod - time.Hour),
				SensorID:   "GAS-DB-R1",
				BarnID:     "B-DB-READ",
				AlertLevel: "normal",
			}
			Expect(store.SaveReading(ctx, fresh)).To(Succeed())
			Expect(store.SaveReading(ctx, expired)).To(Succeed())
			Expect(fresh.ExpireAt).To(BeTemporally("~", now.Add(model.RetentionPeriod), time.Second))

			rows, total, err := store.ListReadings(ctx, "B-DB-READ", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(1)))
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ID).To(Equal(fresh.ID))

			purged, err := store.DeleteExpired(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeNumerically(">=", 1))

			var remaining int64
			Expect(testDB.Model(&model.SensorReading{}).Where("barn_id = ?", "B-DB-READ").Count(&remaining).Error).To(Succeed())
			Expect(remaining).To(Equal(int64(1)))
		})
	})
})
