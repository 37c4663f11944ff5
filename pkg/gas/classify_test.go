package gas_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/pkg/gas"
)

var _ = Describe("Classify", func() {
	DescribeTable("threshold boundaries",
		func(c gas.Concentrations, expected gas.Level) {
			Expect(gas.Classify(c)).To(Equal(expected))
		},
		Entry("all zero", gas.Concentrations{}, gas.LevelNormal),
		Entry("methane at warning limit", gas.Concentrations{MethanePpm: 500}, gas.LevelNormal),
		Entry("methane just above warning limit", gas.Concentrations{MethanePpm: 500.0001}, gas.LevelWarning),
		Entry("methane at danger limit", gas.Concentrations{MethanePpm: 1000}, gas.LevelWarning),
		Entry("methane just above danger limit", gas.Concentrations{MethanePpm: 1000.0001}, gas.LevelDanger),
		Entry("co2 at warning limit", gas.Concentrations{CO2Ppm: 2000}, gas.LevelNormal),
		Entry("co2 just above warning limit", gas.Concentrations{CO2Ppm: 2000.0001}, gas.LevelWarning),
		Entry("co2 at danger limit", gas.Concentrations{CO2Ppm: 3000}, gas.LevelWarning),
		Entry("co2 just above danger limit", gas.Concentrations{CO2Ppm: 3000.0001}, gas.LevelDanger),
		Entry("nh3 at warning limit", gas.Concentrations{NH3Ppm: 15}, gas.LevelNormal),
		Entry("nh3 just above warning limit", gas.Concentrations{NH3Ppm: 15.0001}, gas.LevelWarning),
		Entry("nh3 at danger limit", gas.Concentrations{NH3Ppm: 25}, gas.LevelWarning),
		Entry("nh3 just above danger limit", gas.Concentrations{NH3Ppm: 25.0001}, gas.LevelDanger),
		Entry("one dangerous gas wins over normal ones", gas.Concentrations{MethanePpm: 10, CO2Ppm: 400, NH3Ppm: 30}, gas.LevelDanger),
		Entry("example reading", gas.Concentrations{MethanePpm: 1500, CO2Ppm: 3500, NH3Ppm: 30}, gas.LevelDanger),
	)

	It("is monotonic in every gas", func() {
		r := rand.New(rand.NewSource(42)) // #nosec G404 - deterministic property test input
		for range 5000 {
			base := gas.Concentrations{
				MethanePpm: r.Float64() * 2000,
				CO2Ppm:     r.Float64() * 5000,
				NH3Ppm:     r.Float64() * 50,
			}
			bump := r.Float64() * 1000
			before := gas.Classify(base).Rank()

			m := base
			m.MethanePpm += bump
			Expect(gas.Classify(m).Rank()).To(BeNumerically(">=", before))

			c := base
			c.CO2Ppm += bump
			Expect(gas.Classify(c).Rank()).To(BeNumerically(">=", before))

			n := base
			n.NH3Ppm += bump
			Expect(gas.Classify(n).Rank()).To(BeNumerically(">=", before))
		}
	})
})

var _ = Describe("LevelFor", func() {
	DescribeTable("single gas",
		func(value float64, t gas.Thresholds, expected gas.Level) {
			Expect(gas.LevelFor(value, t)).To(Equal(expected))
		},
		Entry("methane normal", 100.0, gas.Methane, gas.LevelNormal),
		Entry("methane warning", 750.0, gas.Methane, gas.LevelWarning),
		Entry("methane danger", 1200.0, gas.Methane, gas.LevelDanger),
		Entry("nh3 at danger limit", 25.0, gas.NH3, gas.LevelWarning),
	)
})

var _ = Describe("DangerGases", func() {
	It("lists gases above their danger limit in a fixed order", func() {
		out := gas.DangerGases(gas.Concentrations{MethanePpm: 1500, CO2Ppm: 3500, NH3Ppm: 30})
		Expect(out).To(HaveLen(3))
		Expect(out[0].String()).To(Equal("Methane: 1500 ppm"))
		Expect(out[1].String()).To(Equal("CO2: 3500 ppm"))
		Expect(out[2].String()).To(Equal("NH3: 30 ppm"))
	})

	It("skips gases at or below the limit", func() {
		out := gas.DangerGases(gas.Concentrations{MethanePpm: 1000, CO2Ppm: 3000.5, NH3Ppm: 2})
		Expect(out).To(HaveLen(1))
		Expect(out[0].String()).To(Equal("CO2: 3000.5 ppm"))
	})

	It("returns nothing for a normal reading", func() {
		Expect(gas.DangerGases(gas.Concentrations{})).To(BeEmpty())
	})
})

var _ = Describe("Level", func() {
	It("describes each level", func() {
		Expect(gas.LevelDanger.Description()).To(ContainSubstring("immediate action"))
		Expect(gas.LevelWarning.Description()).To(ContainSubstring("monitor closely"))
		Expect(gas.LevelNormal.Description()).To(ContainSubstring("normal range"))
	})

	It("rejects unknown levels", func() {
		Expect(gas.Level("extreme").Valid()).To(BeFalse())
		Expect(gas.LevelWarning.Valid()).To(BeTrue())
	})
})
