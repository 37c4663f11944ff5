package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StatusPayload is published on livestock/devices/{id}/status.
type StatusPayload struct {
	Metadata map[string]any
	Status   string
	Reason   string
	Message  string
}

// HeartbeatPayload is published on livestock/devices/{id}/heartbeat.
type HeartbeatPayload struct {
	Metadata map[string]any
}

// ErrorPayload is published on livestock/devices/{id}/error.
type ErrorPayload struct {
	Metadata  map[string]any
	Error     string
	Message   string
	ErrorCode string
}

// Text returns the message, falling back to the error field.
func (p ErrorPayload) Text() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Error
}

// DecodeStatus decodes a device status message. Fields of an unexpected
// type are treated as absent.
func DecodeStatus(data []byte) (StatusPayload, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return StatusPayload{}, err
	}
	return StatusPayload{
		Status:   stringValue(obj["status"]),
		Reason:   stringValue(obj["reason"]),
		Message:  stringValue(obj["message"]),
		Metadata: objectValue(obj["metadata"]),
	}, nil
}

// DecodeHeartbeat decodes a device heartbeat message.
func DecodeHeartbeat(data []byte) (HeartbeatPayload, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return HeartbeatPayload{}, err
	}
	return HeartbeatPayload{Metadata: objectValue(obj["metadata"])}, nil
}

// DecodeError decodes a device error message. A numeric errorCode is kept
// in its decimal form.
func DecodeError(data []byte) (ErrorPayload, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return ErrorPayload{}, err
	}
	return ErrorPayload{
		Error:     stringValue(obj["error"]),
		Message:   stringValue(obj["message"]),
		ErrorCode: scalarValue(obj["errorCode"]),
		Metadata:  objectValue(obj["metadata"]),
	}, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func scalarValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func objectValue(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
