package gateway

import (
	"encoding/json"
	"time"
)

// Outbound event names.
const (
	EventSensorReading       = "sensor:reading"
	EventSensorReadingGlobal = "sensor:reading:global"
	EventEntryExit           = "entry-exit:event"
	EventEntryExitGlobal     = "entry-exit:event:global"
	EventAlertNew            = "alert:new"
	EventAlertNewBarn        = "alert:new:barn"
	EventAlertUpdated        = "alert:updated"
)

// Frames a client may send, and the reply the server sends to each of them.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FrameAck         = "ack"
)

// Entry/exit directions.
const (
	DirectionEntry = "entry"
	DirectionExit  = "exit"
)

// Frame is the websocket wire unit in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack answers a client frame.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BarnRequest is the data of subscribe and unsubscribe frames.
type BarnRequest struct {
	BarnID string `json:"barnId"`
}

// SensorReadingEvent is the payload of sensor:reading events.
type SensorReadingEvent struct {
	SensorID   string        `json:"sensorId"`
	BarnID     string        `json:"barnId"`
	Reading    ReadingValues `json:"reading"`
	AlertLevel string        `json:"alertLevel"`
}

// ReadingValues are the measured values of a reading.
type ReadingValues struct {
	Timestamp   time.Time `json:"timestamp"`
	MethanePpm  float64   `json:"methanePpm"`
	CO2Ppm      float64   `json:"co2Ppm"`
	NH3Ppm      float64   `json:"nh3Ppm"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

// EntryExitEvent is a livestock passing an RFID gate. Duration is the time
// spent outside, in minutes, and is only known on entry.
type EntryExitEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Duration    *float64  `json:"duration,omitempty"`
	LivestockID string    `json:"livestockId"`
	BarnID      string    `json:"barnId"`
	EventType   string    `json:"eventType"`
}

// AlertNewEvent is the payload of alert:new and alert:new:barn events.
type AlertNewEvent struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	BarnID    string    `json:"barnId,omitempty"`
	FarmID    string    `json:"farmId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
}

// AlertUpdatedEvent is the payload of alert:updated events.
type AlertUpdatedEvent struct {
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	AlertID        string     `json:"alertId"`
	Status         string     `json:"status"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
}

// Envelope routes one event. An empty Room addresses every client.
type Envelope struct {
	Room  string          `json:"room,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
