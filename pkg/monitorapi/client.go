package monitorapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a thin client for the monitoring service. Requests and
// responses are plain maps, converted to and from structpb.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a method by name.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// GetDevice fetches one device.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (map[string]any, error) {
	return c.Call(ctx, MethodGetDevice, map[string]any{"deviceId": deviceID})
}

// ListDevices lists devices matching filter, which may be nil.
func (c *Client) ListDevices(ctx context.Context, filter map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodListDevices, filter)
}

// GetDeviceStatistics fetches counters and uptime of a device.
func (c *Client) GetDeviceStatistics(ctx context.Context, deviceID string) (map[string]any, error) {
	return c.Call(ctx, MethodGetDeviceStatistics, map[string]any{"deviceId": deviceID})
}

// ListDeviceLogs fetches the newest logs of a device. eventType may be empty.
func (c *Client) ListDeviceLogs(ctx context.Context, deviceID string, limit int, eventType string) (map[string]any, error) {
	return c.Call(ctx, MethodListDeviceLogs, map[string]any{
		"deviceId":  deviceID,
		"limit":     limit,
		"eventType": eventType,
	})
}

// SweepStaleDevices runs a stale sweep now. A zero timeout uses the server default.
func (c *Client) SweepStaleDevices(ctx context.Context, timeoutSeconds int) (map[string]any, error) {
	return c.Call(ctx, MethodSweepStaleDevices, map[string]any{"timeoutSeconds": timeoutSeconds})
}

// ListReadings fetches one page of a barn's readings.
func (c *Client) ListReadings(ctx context.Context, barnID, pageToken string) (map[string]any, error) {
	return c.Call(ctx, MethodListReadings, map[string]any{
		"barnId":    barnID,
		"pageToken": pageToken,
	})
}

// AcknowledgeAlert acknowledges an active alert.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID, userID string) (map[string]any, error) {
	return c.Call(ctx, MethodAcknowledgeAlert, map[string]any{"alertId": alertID, "userId": userID})
}

// ResolveAlert resolves an alert.
func (c *Client) ResolveAlert(ctx context.Context, alertID, userID string) (map[string]any, error) {
	return c.Call(ctx, MethodResolveAlert, map[string]any{"alertId": alertID, "userId": userID})
}

// GetAlertStats fetches alert counts for a farm, or all farms when farmID is empty.
func (c *Client) GetAlertStats(ctx context.Context, farmID string) (map[string]any, error) {
	return c.Call(ctx, MethodGetAlertStats, map[string]any{"farmId": farmID})
}

// PublishEntryExitEvent pushes an entry/exit event for fan-out.
func (c *Client) PublishEntryExitEvent(ctx context.Context, event map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodPublishEntryExitEvent, event)
}
