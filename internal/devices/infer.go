package devices

import (
	"strings"

	"procodus.dev/barn-monitor/internal/model"
)

// InferType picks a device type from explicit metadata first and falls back
// to substrings of the id. The id heuristic is a best-effort default.
func InferType(deviceID string, metadata map[string]any) model.DeviceType {
	if t, ok := metadata["type"].(string); ok {
		switch model.DeviceType(t) {
		case model.DeviceTypeGasSensor:
			return model.DeviceTypeGasSensor
		case model.DeviceTypeRFIDReader:
			return model.DeviceTypeRFIDReader
		}
	}

	id := strings.ToUpper(deviceID)
	switch {
	case strings.Contains(id, "GAS"), strings.Contains(id, "SENSOR"):
		return model.DeviceTypeGasSensor
	case strings.Contains(id, "RFID"), strings.Contains(id, "READER"):
		return model.DeviceTypeRFIDReader
	default:
		return model.DeviceTypeGasSensor
	}
}

// MapDisconnectReason maps a free-form reason reported by a device to a
// known DisconnectReason.
func MapDisconnectReason(reason string) model.DisconnectReason {
	r := strings.ToLower(reason)
	switch {
	case r == "":
		return model.DisconnectUnknown
	case strings.Contains(r, "intentional"), strings.Contains(r, "graceful"):
		return model.DisconnectIntentional
	case strings.Contains(r, "timeout"):
		return model.DisconnectTimeout
	case strings.Contains(r, "error"):
		return model.DisconnectError
	case strings.Contains(r, "network"):
		return model.DisconnectNetwork
	default:
		return model.DisconnectUnknown
	}
}
