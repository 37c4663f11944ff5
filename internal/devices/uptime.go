package devices

import (
	"math"
	"sort"
	"time"

	"procodus.dev/barn-monitor/internal/model"
)

// UptimeWindow is the trailing window replayed by Uptime.
const UptimeWindow = 24 * time.Hour

// EventCounts summarizes a device's log.
type EventCounts struct {
	Connections    int64 `json:"connections"`
	Disconnections int64 `json:"disconnections"`
	Errors         int64 `json:"errors"`
}

// Statistics is the diagnostic view of one device.
type Statistics struct {
	Device              *model.Device `json:"device"`
	RecentEvents        EventCounts   `json:"recentEvents"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	TotalConnections    int64         `json:"totalConnections"`
	TotalDisconnections int64         `json:"totalDisconnections"`
	ErrorCount          int64         `json:"errorCount"`
}

// Uptime replays the connected and disconnected entries of logs that fall
// inside the trailing window ending at now and returns the online share as
// a percentage rounded to two decimals. Time since the last entry counts as
// online when status is online. The result never exceeds 100.
func Uptime(logs []model.DeviceLog, status model.DeviceStatus, now time.Time) float64 {
	windowStart := now.Add(-UptimeWindow)

	recent := make([]model.DeviceLog, 0, len(logs))
	for _, l := range logs {
		if !l.Timestamp.Before(windowStart) {
			recent = append(recent, l)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})

	var online time.Duration
	current := model.DeviceStatusOffline
	last := windowStart

	for _, l := range recent {
		if current == model.DeviceStatusOnline {
			online += l.Timestamp.Sub(last)
		}
		switch l.EventType {
		case model.EventConnected:
			current = model.DeviceStatusOnline
		case model.EventDisconnected:
			current = model.DeviceStatusOffline
		}
		last = l.Timestamp
	}

	if status == model.DeviceStatusOnline {
		online += now.Sub(last)
	}

	pct := float64(online) / float64(UptimeWindow) * 100
	return math.Min(100, math.Round(pct*100)/100)
}
