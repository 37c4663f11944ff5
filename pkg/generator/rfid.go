package generator

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Movement directions.
const (
	MovementEntry = "entry"
	MovementExit  = "exit"
)

// Movement is one animal passing an RFID gate.
type Movement struct {
	Timestamp   time.Time
	Duration    *float64
	LivestockID string
	BarnID      string
	ReaderID    string
	EventType   string
}

// Event returns the movement in the shape PublishEntryExitEvent accepts.
func (m Movement) Event() map[string]any {
	ev := map[string]any{
		"livestockId": m.LivestockID,
		"barnId":      m.BarnID,
		"readerId":    m.ReaderID,
		"eventType":   m.EventType,
		"timestamp":   m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if m.Duration != nil {
		ev["duration"] = *m.Duration
	}
	return ev
}

// RFIDReaderID returns the id of the n-th simulated reader, counting from 1.
func RFIDReaderID(n int) string {
	return fmt.Sprintf("RFID-READER-%03d", n)
}

type animal struct {
	id      string
	inside  bool
	leftAt  time.Time
	hasLeft bool
}

// RFIDReader simulates the gate reader of one barn and the herd passing it.
// Every animal starts inside. It is not safe for concurrent use.
type RFIDReader struct {
	Hardware Hardware
	ReaderID string
	BarnID   string

	faker *gofakeit.Faker
	herd  []*animal
}

// NewRFIDReader creates a reader for barnID watching herdSize animals.
func NewRFIDReader(f *gofakeit.Faker, readerID, barnID string, herdSize int) *RFIDReader {
	if f == nil {
		f = gofakeit.New(0)
	}
	if herdSize <= 0 {
		herdSize = 1
	}

	r := &RFIDReader{
		ReaderID: readerID,
		BarnID:   barnID,
		faker:    f,
		herd:     make([]*animal, 0, herdSize),
	}
	if err := f.Struct(&r.Hardware); err != nil {
		r.Hardware = Hardware{Firmware: "1.0.0"}
	}
	for i := 0; i < herdSize; i++ {
		r.herd = append(r.herd, &animal{
			id:     fmt.Sprintf("LS-%s-%03d", barnID, i+1),
			inside: true,
		})
	}
	return r
}

// Metadata is sent with status messages.
func (r *RFIDReader) Metadata() map[string]any {
	return map[string]any{
		"type":       "rfid_reader",
		"version":    r.Hardware.Firmware,
		"macAddress": r.Hardware.MacAddress,
		"barnId":     r.BarnID,
	}
}

// Herd returns the livestock ids the reader watches.
func (r *RFIDReader) Herd() []string {
	out := make([]string, len(r.herd))
	for i, a := range r.herd {
		out[i] = a.id
	}
	return out
}

// Next moves a random animal through the gate at t. An animal inside walks
// out; one outside walks back in, carrying the minutes it spent outside.
func (r *RFIDReader) Next(t time.Time) Movement {
	a := r.herd[r.faker.Number(0, len(r.herd)-1)]

	m := Movement{
		Timestamp:   t.UTC(),
		LivestockID: a.id,
		BarnID:      r.BarnID,
		ReaderID:    r.ReaderID,
	}
	if a.inside {
		m.EventType = MovementExit
		a.inside = false
		a.leftAt = t
		a.hasLeft = true
		return m
	}

	m.EventType = MovementEntry
	a.inside = true
	if a.hasLeft {
		minutes := round2(t.Sub(a.leftAt).Minutes())
		m.Duration = &minutes
	}
	return m
}
