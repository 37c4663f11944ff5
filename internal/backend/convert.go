package backend

import (
	"time"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/model"
)

// The converters below produce maps that structpb.NewStruct accepts: only
// strings, bools, numbers, nested maps and []any.

func timeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func putTime(m map[string]any, key string, t *time.Time) {
	if t != nil {
		m[key] = timeValue(*t)
	}
}

func deviceToMap(d *model.Device) map[string]any {
	m := map[string]any{
		"id":                  float64(d.ID),
		"deviceId":            d.DeviceID,
		"type":                string(d.Type),
		"status":              string(d.Status),
		"isActive":            d.IsActive,
		"totalConnections":    d.TotalConnections,
		"totalDisconnections": d.TotalDisconnections,
		"errorCount":          d.ErrorCount,
		"createdAt":           timeValue(d.CreatedAt),
		"updatedAt":           timeValue(d.UpdatedAt),
	}
	if d.BarnID != nil {
		m["barnId"] = *d.BarnID
	}
	putTime(m, "lastHeartbeatAt", d.LastHeartbeatAt)
	putTime(m, "lastConnectedAt", d.LastConnectedAt)
	putTime(m, "lastDisconnectedAt", d.LastDisconnectedAt)
	putTime(m, "lastErrorAt", d.LastErrorAt)
	if d.LastDisconnectReason != "" {
		m["lastDisconnectReason"] = string(d.LastDisconnectReason)
	}
	if d.LastDisconnectMessage != "" {
		m["lastDisconnectMessage"] = d.LastDisconnectMessage
	}
	if d.LastErrorMessage != "" {
		m["lastErrorMessage"] = d.LastErrorMessage
	}
	if len(d.Metadata) > 0 {
		m["metadata"] = map[string]any(d.Metadata)
	}
	return m
}

func devicesToList(ds []model.Device) []any {
	out := make([]any, len(ds))
	for i := range ds {
		out[i] = deviceToMap(&ds[i])
	}
	return out
}

func deviceLogToMap(l *model.DeviceLog) map[string]any {
	m := map[string]any{
		"id":        float64(l.ID),
		"deviceId":  l.DeviceID,
		"eventType": string(l.EventType),
		"timestamp": timeValue(l.Timestamp),
	}
	if l.Status != "" {
		m["status"] = string(l.Status)
	}
	if l.PreviousStatus != "" {
		m["previousStatus"] = string(l.PreviousStatus)
	}
	if l.DisconnectReason != "" {
		m["disconnectReason"] = string(l.DisconnectReason)
	}
	if l.Message != "" {
		m["message"] = l.Message
	}
	if l.ErrorCode != "" {
		m["errorCode"] = l.ErrorCode
	}
	if len(l.Metadata) > 0 {
		m["metadata"] = map[string]any(l.Metadata)
	}
	return m
}

func statisticsToMap(s *devices.Statistics) map[string]any {
	return map[string]any{
		"device":              deviceToMap(s.Device),
		"totalConnections":    s.TotalConnections,
		"totalDisconnections": s.TotalDisconnections,
		"errorCount":          s.ErrorCount,
		"uptimePercentage":    s.UptimePercentage,
		"recentEvents": map[string]any{
			"connections":    s.RecentEvents.Connections,
			"disconnections": s.RecentEvents.Disconnections,
			"errors":         s.RecentEvents.Errors,
		},
	}
}

func readingToMap(r *model.SensorReading) map[string]any {
	return map[string]any{
		"id":          float64(r.ID),
		"sensorId":    r.SensorID,
		"barnId":      r.BarnID,
		"methanePpm":  r.MethanePpm,
		"co2Ppm":      r.CO2Ppm,
		"nh3Ppm":      r.NH3Ppm,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"alertLevel":  r.AlertLevel,
		"timestamp":   timeValue(r.Timestamp),
		"expireAt":    timeValue(r.ExpireAt),
	}
}

func alertToMap(a *model.Alert) map[string]any {
	m := map[string]any{
		"id":        a.ID,
		"type":      string(a.Type),
		"severity":  string(a.Severity),
		"barnId":    a.BarnID,
		"farmId":    a.FarmID,
		"title":     a.Title,
		"message":   a.Message,
		"status":    string(a.Status),
		"createdAt": timeValue(a.CreatedAt),
		"updatedAt": timeValue(a.UpdatedAt),
	}
	putTime(m, "acknowledgedAt", a.AcknowledgedAt)
	putTime(m, "resolvedAt", a.ResolvedAt)
	if a.AcknowledgedBy != "" {
		m["acknowledgedBy"] = a.AcknowledgedBy
	}
	if a.ResolvedBy != "" {
		m["resolvedBy"] = a.ResolvedBy
	}
	return m
}

func alertStatsToMap(s *alerts.Stats) map[string]any {
	bySeverity := make(map[string]any, len(s.BySeverity))
	for k, v := range s.BySeverity {
		bySeverity[string(k)] = v
	}
	return map[string]any{
		"total":        s.Total,
		"active":       s.Active,
		"acknowledged": s.Acknowledged,
		"resolved":     s.Resolved,
		"bySeverity":   bySeverity,
	}
}
