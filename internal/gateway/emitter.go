package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"procodus.dev/barn-monitor/internal/model"
)

// RoomName returns the room of a barn.
func RoomName(barnID string) string {
	return "barn:" + barnID
}

// emitter turns domain values into envelopes. Hub delivers them locally,
// Relay publishes them to every instance.
type emitter struct {
	logger *slog.Logger
	send   func(Envelope)
}

// EmitReading sends a stored reading to its barn room and to every client.
func (e emitter) EmitReading(r *model.SensorReading) {
	data, ok := e.marshal(EventSensorReading, SensorReadingEvent{
		SensorID: r.SensorID,
		BarnID:   r.BarnID,
		Reading: ReadingValues{
			Timestamp:   r.Timestamp,
			MethanePpm:  r.MethanePpm,
			CO2Ppm:      r.CO2Ppm,
			NH3Ppm:      r.NH3Ppm,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		},
		AlertLevel: r.AlertLevel,
	})
	if !ok {
		return
	}
	e.send(Envelope{Room: RoomName(r.BarnID), Event: EventSensorReading, Data: data})
	e.send(Envelope{Event: EventSensorReadingGlobal, Data: data})
}

// EmitEntryExitEvent sends an entry or exit to its barn room and to every client.
func (e emitter) EmitEntryExitEvent(ev EntryExitEvent) {
	data, ok := e.marshal(EventEntryExit, ev)
	if !ok {
		return
	}
	e.send(Envelope{Room: RoomName(ev.BarnID), Event: EventEntryExit, Data: data})
	e.send(Envelope{Event: EventEntryExitGlobal, Data: data})
}

// EmitNewAlert sends a new alert to every client and, when it belongs to a
// barn, to that barn's room.
func (e emitter) EmitNewAlert(a *model.Alert) {
	data, ok := e.marshal(EventAlertNew, AlertNewEvent{
		CreatedAt: a.CreatedAt,
		ID:        a.ID,
		Type:      string(a.Type),
		Severity:  string(a.Severity),
		BarnID:    a.BarnID,
		FarmID:    a.FarmID,
		Title:     a.Title,
		Message:   a.Message,
		Status:    string(a.Status),
	})
	if !ok {
		return
	}
	e.send(Envelope{Event: EventAlertNew, Data: data})
	if a.BarnID != "" {
		e.send(Envelope{Room: RoomName(a.BarnID), Event: EventAlertNewBarn, Data: data})
	}
}

// EmitAlertUpdated sends a status change to every client.
func (e emitter) EmitAlertUpdated(id string, status model.AlertStatus, actor string, at time.Time) {
	ev := AlertUpdatedEvent{AlertID: id, Status: string(status)}
	switch status {
	case model.AlertAcknowledged:
		ev.AcknowledgedAt = &at
		ev.AcknowledgedBy = actor
	case model.AlertResolved:
		ev.ResolvedAt = &at
		ev.ResolvedBy = actor
	}

	data, ok := e.marshal(EventAlertUpdated, ev)
	if !ok {
		return
	}
	e.send(Envelope{Event: EventAlertUpdated, Data: data})
}

func (e emitter) marshal(event string, v any) (json.RawMessage, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("failed to encode event", "event", event, "error", err)
		return nil, false
	}
	return data, true
}
