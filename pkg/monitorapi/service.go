// Package monitorapi describes the barnmonitor.v1.MonitoringService gRPC
// service. Requests and responses are google.protobuf.Struct messages, so
// the service needs no generated code; the field names of every method are
// documented on the server interface.
package monitorapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "barnmonitor.v1.MonitoringService"

// Method names.
const (
	MethodGetDevice             = "GetDevice"
	MethodListDevices           = "ListDevices"
	MethodGetDeviceStatistics   = "GetDeviceStatistics"
	MethodListDeviceLogs        = "ListDeviceLogs"
	MethodSweepStaleDevices     = "SweepStaleDevices"
	MethodListReadings          = "ListReadings"
	MethodAcknowledgeAlert      = "AcknowledgeAlert"
	MethodResolveAlert          = "ResolveAlert"
	MethodGetAlertStats         = "GetAlertStats"
	MethodPublishEntryExitEvent = "PublishEntryExitEvent"
)

// FullMethod returns the wire name of a method, e.g.
// "/barnmonitor.v1.MonitoringService/GetDevice".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// MonitoringServiceServer is the server API of the monitoring service.
type MonitoringServiceServer interface {
	// GetDevice takes {deviceId} and returns {device}.
	GetDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListDevices takes optional {type, status, barnId, isActive} and returns {devices}.
	ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetDeviceStatistics takes {deviceId} and returns the device statistics.
	GetDeviceStatistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListDeviceLogs takes {deviceId, limit, eventType} and returns {logs}.
	ListDeviceLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// SweepStaleDevices takes optional {timeoutSeconds} and returns {marked, deviceIds}.
	SweepStaleDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListReadings takes {barnId, pageToken} and returns {readings, total, nextPageToken}.
	ListReadings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// AcknowledgeAlert takes {alertId, userId} and returns {alert}.
	AcknowledgeAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ResolveAlert takes {alertId, userId} and returns {alert}.
	ResolveAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetAlertStats takes optional {farmId} and returns the alert counts.
	GetAlertStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// PublishEntryExitEvent takes {livestockId, barnId, eventType, timestamp,
	// duration, readerId} and returns {success}.
	PublishEntryExitEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedMonitoringServiceServer must be embedded to have forward
// compatible implementations.
type UnimplementedMonitoringServiceServer struct{}

func (UnimplementedMonitoringServiceServer) GetDevice(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDevice not implemented")
}

func (UnimplementedMonitoringServiceServer) ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDevices not implemented")
}

func (UnimplementedMonitoringServiceServer) GetDeviceStatistics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDeviceStatistics not implemented")
}

func (UnimplementedMonitoringServiceServer) ListDeviceLogs(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDeviceLogs not implemented")
}

func (UnimplementedMonitoringServiceServer) SweepStaleDevices(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SweepStaleDevices not implemented")
}

func (UnimplementedMonitoringServiceServer) ListReadings(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListReadings not implemented")
}

func (UnimplementedMonitoringServiceServer) AcknowledgeAlert(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method AcknowledgeAlert not implemented")
}

func (UnimplementedMonitoringServiceServer) ResolveAlert(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveAlert not implemented")
}

func (UnimplementedMonitoringServiceServer) GetAlertStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetAlertStats not implemented")
}

func (UnimplementedMonitoringServiceServer) PublishEntryExitEvent(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method PublishEntryExitEvent not implemented")
}

// RegisterMonitoringServiceServer registers srv on s.
func RegisterMonitoringServiceServer(s grpc.ServiceRegistrar, srv MonitoringServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(MonitoringServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MonitoringServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MonitoringServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for the monitoring service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitoringServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetDevice, MonitoringServiceServer.GetDevice),
		unary(MethodListDevices, MonitoringServiceServer.ListDevices),
		unary(MethodGetDeviceStatistics, MonitoringServiceServer.GetDeviceStatistics),
		unary(MethodListDeviceLogs, MonitoringServiceServer.ListDeviceLogs),
		unary(MethodSweepStaleDevices, MonitoringServiceServer.SweepStaleDevices),
		unary(MethodListReadings, MonitoringServiceServer.ListReadings),
		unary(MethodAcknowledgeAlert, MonitoringServiceServer.AcknowledgeAlert),
		unary(MethodResolveAlert, MonitoringServiceServer.ResolveAlert),
		unary(MethodGetAlertStats, MonitoringServiceServer.GetAlertStats),
		unary(MethodPublishEntryExitEvent, MonitoringServiceServer.PublishEntryExitEvent),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "barnmonitor/v1/monitoring.proto",
}
