// Package generator produces synthetic barn telemetry: gas sensor readings,
// device faults and livestock movements past RFID gates.
package generator

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/barn-monitor/pkg/gas"
	"procodus.dev/barn-monitor/pkg/payload"
)

// Condition is the air quality a generated reading is drawn from.
type Condition string

const (
	ConditionNormal  Condition = "normal"
	ConditionWarning Condition = "warning"
	ConditionDanger  Condition = "danger"
)

// Weights are the probabilities of the warning and danger conditions. The
// remainder is normal.
type Weights struct {
	Warning float64
	Danger  float64
}

// DefaultWeights yields mostly normal air with an occasional spike.
var DefaultWeights = Weights{Warning: 0.20, Danger: 0.05}

// Hardware describes a simulated device board.
type Hardware struct {
	MacAddress string `fake:"{macaddress}"`
	IPAddress  string `fake:"{ipv4address}"`
	Firmware   string `fake:"{appversion}"`
}

// Baseline holds the values a sensor drifts around under normal conditions.
type Baseline struct {
	MethanePpm  float64
	CO2Ppm      float64
	NH3Ppm      float64
	Temperature float64
	Humidity    float64
}

// GasSensor simulates one barn gas sensor. It is not safe for concurrent use.
type GasSensor struct {
	Hardware Hardware
	Baseline Baseline
	SensorID string
	BarnID   string

	faker *gofakeit.Faker
}

// SensorID returns the id of the n-th simulated gas sensor, counting from 1.
func SensorID(n int) string {
	return fmt.Sprintf("GAS-%03d", n)
}

// NewGasSensor creates a sensor in barnID with a random baseline. f may be
// nil, in which case a randomly seeded faker is used.
func NewGasSensor(f *gofakeit.Faker, sensorID, barnID string) *GasSensor {
	if f == nil {
		f = gofakeit.New(0)
	}

	s := &GasSensor{
		SensorID: sensorID,
		BarnID:   barnID,
		faker:    f,
		Baseline: Baseline{
			MethanePpm:  f.Float64Range(200, 400),
			CO2Ppm:      f.Float64Range(800, 1500),
			NH3Ppm:      f.Float64Range(5, 10),
			Temperature: f.Float64Range(20, 25),
			Humidity:    f.Float64Range(50, 70),
		},
	}
	if err := f.Struct(&s.Hardware); err != nil {
		s.Hardware = Hardware{Firmware: "1.0.0"}
	}
	return s
}

// Metadata is sent with status and error messages so the backend can infer
// the device type.
func (s *GasSensor) Metadata() map[string]any {
	return map[string]any{
		"type":       "gas_sensor",
		"version":    s.Hardware.Firmware,
		"macAddress": s.Hardware.MacAddress,
		"ipAddress":  s.Hardware.IPAddress,
		"barnId":     s.BarnID,
	}
}

// PickCondition draws the condition of the next reading.
func (s *GasSensor) PickCondition(w Weights) Condition {
	p := s.faker.Float64()
	switch {
	case p < w.Danger:
		return ConditionDanger
	case p < w.Danger+w.Warning:
		return ConditionWarning
	default:
		return ConditionNormal
	}
}

// Reading generates a reading taken at t under condition c.
func (s *GasSensor) Reading(t time.Time, c Condition) payload.Reading {
	f := s.faker
	b := s.Baseline

	var methane, co2, nh3 float64
	switch c {
	case ConditionDanger:
		// Every gas above its danger limit, so the reading classifies as
		// danger whichever gas is looked at first.
		methane = f.Float64Range(gas.Methane.Danger+1, 2000)
		co2 = f.Float64Range(gas.CO2.Danger+1, 5000)
		nh3 = f.Float64Range(gas.NH3.Danger+1, 50)
	case ConditionWarning:
		methane = f.Float64Range(gas.Methane.Warning+1, gas.Methane.Danger-100)
		co2 = f.Float64Range(gas.CO2.Warning+1, gas.CO2.Danger-200)
		nh3 = f.Float64Range(gas.NH3.Warning+1, gas.NH3.Danger-2)
	default:
		methane = b.MethanePpm + f.Float64Range(-50, 50)
		co2 = b.CO2Ppm + f.Float64Range(-200, 200)
		nh3 = b.NH3Ppm + f.Float64Range(-2, 2)
	}

	temperature := s.temperature(t)
	humidity := s.humidity(t, temperature)

	return payload.Reading{
		Timestamp:   t.UTC(),
		SensorID:    s.SensorID,
		BarnID:      s.BarnID,
		MethanePpm:  round2(clamp(methane, 0, 5000)),
		CO2Ppm:      round2(clamp(co2, 0, 10000)),
		NH3Ppm:      round2(clamp(nh3, 0, 100)),
		Temperature: round2(clamp(temperature, -20, 60)),
		Humidity:    round2(clamp(humidity, 0, 100)),
	}
}

// temperature follows a daily cycle peaking in the afternoon.
func (s *GasSensor) temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	daily := 3 * math.Sin((hour-6)*math.Pi/12)
	return s.Baseline.Temperature + daily + s.faker.Float64Range(-1, 1)
}

// humidity moves against the temperature.
func (s *GasSensor) humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.Hour())
	daily := -5 * math.Sin((hour-6)*math.Pi/12)
	tempEffect := -(temperature - s.Baseline.Temperature) * 1.5
	return s.Baseline.Humidity + daily + tempEffect + s.faker.Float64Range(-5, 5)
}

// Fault is an error a device reports instead of a reading.
type Fault struct {
	Code    string
	Message string
}

// Faults are the errors a simulated gas sensor may report.
var Faults = []Fault{
	{Code: "SENSOR_READ_FAIL", Message: "Failed to read sensor data"},
	{Code: "SENSOR_CALIBRATION", Message: "Sensor calibration error"},
	{Code: "SENSOR_TIMEOUT", Message: "Sensor read timeout"},
	{Code: "SENSOR_MALFUNCTION", Message: "Sensor malfunction detected"},
}

// Fault reports whether the sensor fails this cycle, with probability p, and
// which fault it reports.
func (s *GasSensor) Fault(p float64) (Fault, bool) {
	if p <= 0 || s.faker.Float64() >= p {
		return Fault{}, false
	}
	return Faults[s.faker.Number(0, len(Faults)-1)], true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
