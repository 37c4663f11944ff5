// Package payload decodes and validates the JSON messages published by barn devices.
//
// The validator is a pure transform: it never touches storage or the network
// and returns either a normalized value or a structured rejection.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"procodus.dev/barn-monitor/pkg/gas"
)

var (
	// ErrMalformedJSON is returned when the message body is not parseable JSON.
	ErrMalformedJSON = errors.New("malformed JSON payload")

	// ErrNotObject is returned when the message body is valid JSON but not an object.
	ErrNotObject = errors.New("payload must be a JSON object")
)

// Reading is a validated gas sensor reading.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	SensorID    string    `json:"sensorId"`
	BarnID      string    `json:"barnId"`
	MethanePpm  float64   `json:"methanePpm"`
	CO2Ppm      float64   `json:"co2Ppm"`
	NH3Ppm      float64   `json:"nh3Ppm"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

// Concentrations returns the gas part of the reading.
func (r Reading) Concentrations() gas.Concentrations {
	return gas.Concentrations{
		MethanePpm: r.MethanePpm,
		CO2Ppm:     r.CO2Ppm,
		NH3Ppm:     r.NH3Ppm,
	}
}

// Violation is one failed constraint.
type Violation struct {
	Field   string
	Message string
}

// ValidationError carries every violation found in a payload.
type ValidationError struct {
	cause      error
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + strings.Join(e.Messages(), ", ")
}

// Unwrap exposes ErrNotObject for non-object payloads.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Messages returns the violation messages in field order.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Message)
	}
	return out
}

type numberRule struct {
	field string
	min   float64
	max   float64
}

var stringFields = []string{"sensorId", "barnId"}

var numberRules = []numberRule{
	{field: "methanePpm", min: 0, max: 100000},
	{field: "co2Ppm", min: 0, max: 100000},
	{field: "nh3Ppm", min: 0, max: 1000},
	{field: "temperature", min: -50, max: 100},
	{field: "humidity", min: 0, max: 100},
}

// Timestamp layouts accepted for the optional "timestamp" field. Layouts
// without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Validator validates gas sensor payloads.
type Validator struct {
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the clock used to stamp readings without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a Validator that stamps missing timestamps with time.Now.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseReading decodes data and validates it. Unparsable bodies fail with
// ErrMalformedJSON before any field is inspected.
func (v *Validator) ParseReading(data []byte) (Reading, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return v.ValidateReading(raw)
}

// ValidateReading validates an already decoded JSON value. Unknown fields are ignored.
func (v *Validator) ValidateReading(raw any) (Reading, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Reading{}, &ValidationError{
			cause:      ErrNotObject,
			Violations: []Violation{{Message: "Payload must be a JSON object"}},
		}
	}

	var violations []Violation
	strs := make(map[string]string, len(stringFields))
	for _, field := range stringFields {
		s, violation := checkString(obj, field)
		if violation != nil {
			violations = append(violations, *violation)
			continue
		}
		strs[field] = s
	}

	nums := make(map[string]float64, len(numberRules))
	for _, rule := range numberRules {
		n, violation := checkNumber(obj, rule)
		if violation != nil {
			violations = append(violations, *violation)
			continue
		}
		nums[rule.field] = n
	}

	ts, violation := v.checkTimestamp(obj)
	if violation != nil {
		violations = append(violations, *violation)
	}

	if len(violations) > 0 {
		return Reading{}, &ValidationError{Violations: violations}
	}

	return Reading{
		SensorID:    strs["sensorId"],
		BarnID:      strs["barnId"],
		MethanePpm:  nums["methanePpm"],
		CO2Ppm:      nums["co2Ppm"],
		NH3Ppm:      nums["nh3Ppm"],
		Temperature: nums["temperature"],
		Humidity:    nums["humidity"],
		Timestamp:   ts,
	}, nil
}

func checkString(obj map[string]any, field string) (string, *Violation) {
	raw, ok := obj[field]
	if !ok || raw == nil {
		return "", &Violation{Field: field, Message: field + " is required"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &Violation{Field: field, Message: field + " must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return "", &Violation{Field: field, Message: field + " should not be empty"}
	}
	return s, nil
}

func checkNumber(obj map[string]any, rule numberRule) (float64, *Violation) {
	raw, ok := obj[rule.field]
	if !ok || raw == nil {
		return 0, &Violation{Field: rule.field, Message: rule.field + " is required"}
	}
	n, ok := raw.(float64)
	if !ok {
		return 0, &Violation{Field: rule.field, Message: rule.field + " must be a number"}
	}
	if n < rule.min {
		return 0, &Violation{
			Field:   rule.field,
			Message: fmt.Sprintf("%s must not be less than %s", rule.field, formatBound(rule.min)),
		}
	}
	if n > rule.max {
		return 0, &Violation{
			Field:   rule.field,
			Message: fmt.Sprintf("%s must not be greater than %s", rule.field, formatBound(rule.max)),
		}
	}
	return n, nil
}

func (v *Validator) checkTimestamp(obj map[string]any) (time.Time, *Violation) {
	raw, ok := obj["timestamp"]
	if !ok || raw == nil {
		return v.now().UTC(), nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, &Violation{Field: "timestamp", Message: "timestamp must be a valid ISO 8601 date string"}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &Violation{Field: "timestamp", Message: "timestamp must be a valid ISO 8601 date string"}
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
