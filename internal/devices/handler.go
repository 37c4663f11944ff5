package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/payload"
)

// Handler turns decoded device messages into tracker calls. Every entry
// point auto-registers an unknown device before applying the event.
type Handler struct {
	tracker *Tracker
	logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(tracker *Tracker, l *slog.Logger) (*Handler, error) {
	if tracker == nil {
		return nil, errors.New("tracker cannot be nil")
	}
	if l == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Handler{
		tracker: tracker,
		logger:  logger.Component(l, "device-handler"),
	}, nil
}

// HandleStatus applies a status message. Statuses other than
// online/connected and offline/disconnected only register the device.
func (h *Handler) HandleStatus(ctx context.Context, deviceID string, p payload.StatusPayload) error {
	if err := h.ensure(ctx, deviceID, InferType(deviceID, p.Metadata), p.Metadata); err != nil {
		return err
	}

	switch p.Status {
	case "online", "connected":
		if _, err := h.tracker.Connect(ctx, deviceID, p.Metadata); err != nil {
			return err
		}
	case "offline", "disconnected":
		if _, err := h.tracker.Disconnect(ctx, deviceID, MapDisconnectReason(p.Reason), p.Message, p.Metadata); err != nil {
			return err
		}
	default:
		h.logger.Debug("ignoring device status", "device_id", deviceID, "status", p.Status)
	}
	return nil
}

// HandleHeartbeat applies a heartbeat message.
func (h *Handler) HandleHeartbeat(ctx context.Context, deviceID string, p payload.HeartbeatPayload) error {
	if err := h.ensure(ctx, deviceID, InferType(deviceID, p.Metadata), nil); err != nil {
		return err
	}
	return h.tracker.Heartbeat(ctx, deviceID)
}

// HandleError applies an error message, using the message text and falling
// back to the error field.
func (h *Handler) HandleError(ctx context.Context, deviceID string, p payload.ErrorPayload) error {
	if err := h.ensure(ctx, deviceID, InferType(deviceID, p.Metadata), p.Metadata); err != nil {
		return err
	}

	text := p.Text()
	if _, err := h.tracker.ReportError(ctx, deviceID, text, p.ErrorCode, p.Metadata); err != nil {
		return err
	}
	h.logger.Warn("device reported error", "device_id", deviceID, "message", text)
	return nil
}

// HandleReading treats a gas reading as proof of life for its sensor: the
// sensor is registered as a gas sensor of the reading's barn and its
// heartbeat is stamped.
func (h *Handler) HandleReading(ctx context.Context, r payload.Reading) error {
	return h.observeReading(ctx, r.SensorID, model.DeviceTypeGasSensor, r.BarnID, nil)
}

// HandleRFIDReading does the same for an RFID reader that reported a tag.
func (h *Handler) HandleRFIDReading(ctx context.Context, readerID, barnID string, metadata map[string]any) error {
	return h.observeReading(ctx, readerID, model.DeviceTypeRFIDReader, barnID, metadata)
}

func (h *Handler) observeReading(ctx context.Context, deviceID string, typ model.DeviceType, barnID string, metadata map[string]any) error {
	md := make(map[string]any, len(metadata)+1)
	maps.Copy(md, metadata)
	md["barnId"] = barnID

	if err := h.ensure(ctx, deviceID, typ, md); err != nil {
		return err
	}
	return h.tracker.Heartbeat(ctx, deviceID)
}

func (h *Handler) ensure(ctx context.Context, deviceID string, typ model.DeviceType, metadata map[string]any) error {
	created, err := h.tracker.EnsureRegistered(ctx, deviceID, typ, metadata)
	if err != nil {
		return fmt.Errorf("auto-registration failed: %w", err)
	}
	if created {
		h.logger.Info("auto-registered new device", "device_id", deviceID, "type", typ)
	}
	return nil
}
