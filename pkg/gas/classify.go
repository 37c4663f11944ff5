// Package gas classifies barn air-quality readings against fixed ppm thresholds.
package gas

import (
	"fmt"
	"strconv"
)

// Level is the alert level of a gas reading.
type Level string

const (
	LevelNormal  Level = "normal"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Thresholds holds the warning and danger limits of a single gas in ppm.
// A value equal to a limit belongs to the lower tier.
type Thresholds struct {
	Warning float64
	Danger  float64
}

var (
	// Methane limits.
	Methane = Thresholds{Warning: 500, Danger: 1000}
	// CO2 limits.
	CO2 = Thresholds{Warning: 2000, Danger: 3000}
	// NH3 limits.
	NH3 = Thresholds{Warning: 15, Danger: 25}
)

// Concentrations are the gas values of a reading in ppm.
type Concentrations struct {
	MethanePpm float64
	CO2Ppm     float64
	NH3Ppm     float64
}

// Exceedance names a gas that crossed its danger limit.
type Exceedance struct {
	Gas   string
	Value float64
}

// String renders the exceedance as "Methane: 1500 ppm".
func (e Exceedance) String() string {
	return fmt.Sprintf("%s: %s ppm", e.Gas, strconv.FormatFloat(e.Value, 'f', -1, 64))
}

// Classify returns the alert level of c. Danger is checked before warning,
// so any gas above its danger limit makes the whole reading dangerous.
func Classify(c Concentrations) Level {
	if c.MethanePpm > Methane.Danger || c.CO2Ppm > CO2.Danger || c.NH3Ppm > NH3.Danger {
		return LevelDanger
	}
	if c.MethanePpm > Methane.Warning || c.CO2Ppm > CO2.Warning || c.NH3Ppm > NH3.Warning {
		return LevelWarning
	}
	return LevelNormal
}

// LevelFor returns the level of a single gas value.
func LevelFor(value float64, t Thresholds) Level {
	switch {
	case value > t.Danger:
		return LevelDanger
	case value > t.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// DangerGases lists the gases of c above their danger limit in
// methane, CO2, NH3 order.
func DangerGases(c Concentrations) []Exceedance {
	var out []Exceedance
	if c.MethanePpm > Methane.Danger {
		out = append(out, Exceedance{Gas: "Methane", Value: c.MethanePpm})
	}
	if c.CO2Ppm > CO2.Danger {
		out = append(out, Exceedance{Gas: "CO2", Value: c.CO2Ppm})
	}
	if c.NH3Ppm > NH3.Danger {
		out = append(out, Exceedance{Gas: "NH3", Value: c.NH3Ppm})
	}
	return out
}

// Rank orders levels from normal (0) to danger (2). Unknown levels rank -1.
func (l Level) Rank() int {
	switch l {
	case LevelNormal:
		return 0
	case LevelWarning:
		return 1
	case LevelDanger:
		return 2
	default:
		return -1
	}
}

// Description is the human readable summary shown next to a level.
func (l Level) Description() string {
	switch l {
	case LevelDanger:
		return "Critical gas levels detected - immediate action required"
	case LevelWarning:
		return "Elevated gas levels detected - monitor closely"
	default:
		return "Gas levels within normal range"
	}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l.Rank() >= 0
}
