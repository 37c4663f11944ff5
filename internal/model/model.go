// Package model holds the persisted entities of the barn monitor.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// RetentionPeriod is how long a sensor reading stays reachable after its timestamp.
const RetentionPeriod = 90 * 24 * time.Hour

// DeviceType classifies field hardware.
type DeviceType string

// Device types.
const (
	DeviceTypeGasSensor  DeviceType = "gas_sensor"
	DeviceTypeRFIDReader DeviceType = "rfid_reader"
)

// DeviceStatus is the connection state of a device.
type DeviceStatus string

// Device statuses.
const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

// DisconnectReason explains why a device went offline.
type DisconnectReason string

// Disconnect reasons.
const (
	DisconnectIntentional DisconnectReason = "intentional"
	DisconnectTimeout     DisconnectReason = "timeout"
	DisconnectError       DisconnectReason = "error"
	DisconnectNetwork     DisconnectReason = "network"
	DisconnectUnknown     DisconnectReason = "unknown"
)

// DeviceEventType is the kind of a DeviceLog row.
type DeviceEventType string

// Device event types.
const (
	EventConnected    DeviceEventType = "connected"
	EventDisconnected DeviceEventType = "disconnected"
	EventHeartbeat    DeviceEventType = "heartbeat"
	EventError        DeviceEventType = "error"
	EventStatusChange DeviceEventType = "status_change"
)

// Device is a registered piece of field hardware.
type Device struct {
	LastHeartbeatAt       *time.Time
	LastConnectedAt       *time.Time
	LastDisconnectedAt    *time.Time
	LastErrorAt           *time.Time
	BarnID                *string           `gorm:"index"`
	CreatedAt             time.Time         `gorm:"autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb"`
	DeviceID              string            `gorm:"uniqueIndex;not null"`
	Type                  DeviceType        `gorm:"index:idx_device_type_status;not null"`
	Status                DeviceStatus      `gorm:"index:idx_device_type_status;index;not null;default:offline"`
	LastDisconnectReason  DisconnectReason
	LastDisconnectMessage string
	LastErrorMessage      string
	TotalConnections      int64 `gorm:"not null;default:0"`
	TotalDisconnections   int64 `gorm:"not null;default:0"`
	ErrorCount            int64 `gorm:"not null;default:0"`
	ID                    uint  `gorm:"primaryKey"`
	IsActive              bool  `gorm:"not null;default:true"`
}

// TableName specifies the table name for Device model.
func (Device) TableName() string {
	return "devices"
}

// DeviceLog is one observed device transition. Rows are never updated.
type DeviceLog struct {
	Timestamp        time.Time         `gorm:"index:idx_device_log_device_ts;index:idx_device_log_event_ts;index;not null"`
	CreatedAt        time.Time         `gorm:"autoCreateTime"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	DeviceID         string            `gorm:"index:idx_device_log_device_ts;not null"`
	EventType        DeviceEventType   `gorm:"index:idx_device_log_event_ts;not null"`
	Status           DeviceStatus
	PreviousStatus   DeviceStatus
	DisconnectReason DisconnectReason
	Message          string
	ErrorCode        string
	ID               uint `gorm:"primaryKey"`
}

// TableName specifies the table name for DeviceLog model.
func (DeviceLog) TableName() string {
	return "device_logs"
}

// SensorReading is a stored gas reading. Rows are write-once and become
// unreachable once ExpireAt has passed.
type SensorReading struct {
	Timestamp   time.Time `gorm:"index:idx_reading_barn_ts;not null"`
	ExpireAt    time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	SensorID    string    `gorm:"index;not null"`
	BarnID      string    `gorm:"index:idx_reading_barn_ts;not null"`
	AlertLevel  string    `gorm:"index;not null"`
	MethanePpm  float64   `gorm:"not null"`
	CO2Ppm      float64   `gorm:"column:co2_ppm;not null"`
	NH3Ppm      float64   `gorm:"column:nh3_ppm;not null"`
	Temperature float64   `gorm:"not null"`
	Humidity    float64   `gorm:"not null"`
	ID          uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for SensorReading model.
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// StampExpiry sets ExpireAt from Timestamp and the retention period.
func (r *SensorReading) StampExpiry() {
	r.ExpireAt = r.Timestamp.Add(RetentionPeriod)
}

// AlertType is the category of an alert.
type AlertType string

// AlertTypeGasLevel is raised by dangerous gas readings.
const AlertTypeGasLevel AlertType = "gas_level"

// AlertSeverity ranks an alert.
type AlertSeverity string

// Alert severities.
const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert statuses.
const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a raised condition on a barn. At most one active gas_level alert
// may exist per barn; the store enforces it.
type Alert struct {
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
	CreatedAt      time.Time     `gorm:"autoCreateTime;index"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime"`
	ID             string        `gorm:"primaryKey;type:uuid"`
	Type           AlertType     `gorm:"not null;index"`
	Severity       AlertSeverity `gorm:"not null;index"`
	BarnID         string        `gorm:"not null;index"`
	FarmID         string        `gorm:"not null;index"`
	Title          string        `gorm:"not null"`
	Message        string        `gorm:"not null"`
	Status         AlertStatus   `gorm:"not null;index;default:active"`
	AcknowledgedBy string
	ResolvedBy     string
}

// TableName specifies the table name for Alert model.
func (Alert) TableName() string {
	return "alerts"
}

// Barn is the externally owned enclosure a reading belongs to. The monitor
// only reads it.
type Barn struct {
	ID     string `gorm:"primaryKey"`
	Code   string `gorm:"uniqueIndex;not null"`
	FarmID string `gorm:"index;not null"`
	Name   string
}

// TableName specifies the table name for Barn model.
func (Barn) TableName() string {
	return "barns"
}
