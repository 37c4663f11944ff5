package backend

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/monitorapi"
)

// EntryExitBroadcaster fans out livestock movements. It is satisfied by
// *gateway.Hub and *gateway.Relay.
type EntryExitBroadcaster interface {
	EmitEntryExitEvent(ev gateway.EntryExitEvent)
}

// MonitoringServiceConfig holds the configuration for the MonitoringService.
type MonitoringServiceConfig struct {
	Logger      *slog.Logger
	Metrics     *metrics.QueryMetrics
	Tracker     *devices.Tracker
	Devices     *devices.Handler
	Readings    *monitoring.Handler
	Alerts      *alerts.Manager
	Broadcaster EntryExitBroadcaster

	// SweepTimeout is used when SweepStaleDevices gets no timeout.
	SweepTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// MonitoringService implements monitorapi.MonitoringServiceServer.
type MonitoringService struct {
	monitorapi.UnimplementedMonitoringServiceServer
	logger       *slog.Logger
	metrics      *metrics.QueryMetrics
	tracker      *devices.Tracker
	devices      *devices.Handler
	readings     *monitoring.Handler
	alerts       *alerts.Manager
	broadcaster  EntryExitBroadcaster
	sweepTimeout time.Duration
	now          func() time.Time
}

// NewMonitoringService creates a new MonitoringService instance.
func NewMonitoringService(cfg *MonitoringServiceConfig) (*MonitoringService, error) {
	if cfg == nil {
		return nil, errors.New("service config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Tracker == nil || cfg.Devices == nil {
		return nil, errors.New("device tracker and handler cannot be nil")
	}

	if cfg.Readings == nil {
		return nil, errors.New("monitoring handler cannot be nil")
	}

	if cfg.Alerts == nil {
		return nil, errors.New("alert manager cannot be nil")
	}

	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	sweepTimeout := cfg.SweepTimeout
	if sweepTimeout <= 0 {
		sweepTimeout = devices.DefaultHeartbeatTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &MonitoringService{
		logger:       logger.Component(cfg.Logger, "grpc"),
		metrics:      cfg.Metrics,
		tracker:      cfg.Tracker,
		devices:      cfg.Devices,
		readings:     cfg.Readings,
		alerts:       cfg.Alerts,
		broadcaster:  cfg.Broadcaster,
		sweepTimeout: sweepTimeout,
		now:          clock,
	}, nil
}

// UnaryInterceptor records request count, duration and in-flight requests
// per method.
func (s *MonitoringService) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if s.metrics == nil {
			return handler(ctx, req)
		}
		method := info.FullMethod

		// Track in-flight requests
		s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Inc()
		defer s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Dec()

		// Track duration
		timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
		defer timer.ObserveDuration()

		resp, err := handler(ctx, req)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, outcome).Inc()
		return resp, err
	}
}

// toStatus maps domain errors onto gRPC codes.
func (s *MonitoringService) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, devices.ErrNotFound), errors.Is(err, alerts.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, alerts.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error("request failed", "method", op, "error", err)
	return status.Errorf(codes.Internal, "%s failed: %v", op, err)
}

func respond(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func requireString(req *structpb.Struct, key string) (string, error) {
	v := stringField(req, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s cannot be empty", key)
	}
	return v, nil
}

// GetDevice implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) GetDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "deviceId")
	if err != nil {
		return nil, err
	}

	d, err := s.tracker.Get(ctx, id)
	if err != nil {
		return nil, s.toStatus("GetDevice", err)
	}
	return respond(map[string]any{"device": deviceToMap(d)})
}

// ListDevices implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) ListDevices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := devices.Filter{
		Type:   model.DeviceType(stringField(req, "type")),
		Status: model.DeviceStatus(stringField(req, "status")),
		BarnID: stringField(req, "barnId"),
	}
	if v, ok := req.GetFields()["isActive"]; ok {
		if _, isBool := v.GetKind().(*structpb.Value_BoolValue); isBool {
			active := v.GetBoolValue()
			filter.IsActive = &active
		}
	}

	list, err := s.tracker.List(ctx, filter)
	if err != nil {
		return nil, s.toStatus("ListDevices", err)
	}

	s.logger.Debug("listed devices", "count", len(list))
	return respond(map[string]any{"devices": devicesToList(list)})
}

// GetDeviceStatistics implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) GetDeviceStatistics(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "deviceId")
	if err != nil {
		return nil, err
	}

	stats, err := s.tracker.Statistics(ctx, id)
	if err != nil {
		return nil, s.toStatus("GetDeviceStatistics", err)
	}
	return respond(statisticsToMap(stats))
}

// ListDeviceLogs implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) ListDeviceLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "deviceId")
	if err != nil {
		return nil, err
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())
	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit cannot be negative")
	}

	logs, err := s.tracker.Logs(ctx, id, limit, model.DeviceEventType(stringField(req, "eventType")))
	if err != nil {
		return nil, s.toStatus("ListDeviceLogs", err)
	}

	out := make([]any, len(logs))
	for i := range logs {
		out[i] = deviceLogToMap(&logs[i])
	}
	return respond(map[string]any{"logs": out})
}

// SweepStaleDevices implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) SweepStaleDevices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	timeout := s.sweepTimeout
	if secs := req.GetFields()["timeoutSeconds"].GetNumberValue(); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	swept, err := s.tracker.SweepStale(ctx, timeout)
	if err != nil {
		return nil, s.toStatus("SweepStaleDevices", err)
	}

	ids := make([]any, len(swept))
	for i, d := range swept {
		ids[i] = d.DeviceID
	}
	s.logger.Info("on-demand stale sweep finished", "marked", len(swept), "timeout", timeout)
	return respond(map[string]any{"marked": len(swept), "deviceIds": ids})
}

// ListReadings implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) ListReadings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	barnID, err := requireString(req, "barnId")
	if err != nil {
		return nil, err
	}

	// Parse page token (offset)
	offset := 0
	if token := stringField(req, "pageToken"); token != "" {
		offset, err = strconv.Atoi(token)
		if err != nil || offset < 0 {
			return nil, status.Error(codes.InvalidArgument, "invalid pageToken")
		}
	}

	rows, total, next, err := s.readings.ListReadings(ctx, barnID, offset, monitoring.DefaultPageSize)
	if err != nil {
		return nil, s.toStatus("ListReadings", err)
	}

	out := make([]any, len(rows))
	for i := range rows {
		out[i] = readingToMap(&rows[i])
	}

	// Generate next page token
	nextPageToken := ""
	if next >= 0 {
		nextPageToken = strconv.Itoa(next)
	}

	s.logger.Debug("fetched readings",
		"barn_id", barnID,
		"count", len(out),
		"has_next_page", nextPageToken != "",
	)

	return respond(map[string]any{
		"readings":      out,
		"total":         total,
		"nextPageToken": nextPageToken,
	})
}

// AcknowledgeAlert implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) AcknowledgeAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "alertId")
	if err != nil {
		return nil, err
	}
	actor, err := requireString(req, "userId")
	if err != nil {
		return nil, err
	}

	a, err := s.alerts.Acknowledge(ctx, id, actor)
	if err != nil {
		return nil, s.toStatus("AcknowledgeAlert", err)
	}
	return respond(map[string]any{"alert": alertToMap(a)})
}

// ResolveAlert implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) ResolveAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "alertId")
	if err != nil {
		return nil, err
	}
	actor, err := requireString(req, "userId")
	if err != nil {
		return nil, err
	}

	a, err := s.alerts.Resolve(ctx, id, actor)
	if err != nil {
		return nil, s.toStatus("ResolveAlert", err)
	}
	return respond(map[string]any{"alert": alertToMap(a)})
}

// GetAlertStats implements monitorapi.MonitoringServiceServer.
func (s *MonitoringService) GetAlertStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.alerts.Stats(ctx, stringField(req, "farmId"))
	if err != nil {
		return nil, s.toStatus("GetAlertStats", err)
	}
	return respond(alertStatsToMap(stats))
}

// PublishEntryExitEvent implements monitorapi.MonitoringServiceServer. When
// the event names the reporting reader, the reader's liveness is tracked
// too; a tracking failure does not stop the fan-out.
func (s *MonitoringService) PublishEntryExitEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	livestockID, err := requireString(req, "livestockId")
	if err != nil {
		return nil, err
	}
	barnID, err := requireString(req, "barnId")
	if err != nil {
		return nil, err
	}
	eventType := stringField(req, "eventType")
	if eventType != gateway.DirectionEntry && eventType != gateway.DirectionExit {
		return nil, status.Errorf(codes.InvalidArgument, "eventType must be %q or %q", gateway.DirectionEntry, gateway.DirectionExit)
	}

	ts := s.now().UTC()
	if raw := stringField(req, "timestamp"); raw != "" {
		ts, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "timestamp must be an RFC 3339 date")
		}
	}

	ev := gateway.EntryExitEvent{
		Timestamp:   ts,
		LivestockID: livestockID,
		BarnID:      barnID,
		EventType:   eventType,
	}
	if v, ok := req.GetFields()["duration"]; ok {
		if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); isNumber {
			d := v.GetNumberValue()
			ev.Duration = &d
		}
	}

	if readerID := stringField(req, "readerId"); readerID != "" {
		md := map[string]any{"livestockId": livestockID, "eventType": eventType}
		if err := s.devices.HandleRFIDReading(ctx, readerID, barnID, md); err != nil {
			s.logger.Warn("failed to track rfid reader", "reader_id", readerID, "error", err)
		}
	}

	s.broadcaster.EmitEntryExitEvent(ev)
	s.logger.Debug("published entry/exit event", "livestock_id", livestockID, "barn_id", barnID, "event_type", eventType)
	return respond(map[string]any{"success": true})
}

var _ monitorapi.MonitoringServiceServer = (*MonitoringService)(nil)
