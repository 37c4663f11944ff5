package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"procodus.dev/barn-monitor/pkg/generator"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/monitorapi"
	"procodus.dev/barn-monitor/pkg/mqtt"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultMovementInterval  = 30 * time.Second
	defaultHerdSize          = 10
	connectTimeout           = 10 * time.Second
	retireTimeout            = 5 * time.Second
)

var (
	errNoBarns              = errors.New("at least one barn is required")
	errInvalidSensorCount   = errors.New("sensors per barn must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errInvalidProbability   = errors.New("probabilities must be between 0 and 1")
	errLoggerRequired       = errors.New("logger is required")
	errBrokerRequired       = errors.New("MQTT broker URL cannot be empty")
	errNotConnectedInTime   = errors.New("mqtt session did not come up in time")
	errSimulatorAlreadyUsed = errors.New("simulator already started")
)

// MovementPublisher receives simulated livestock movements. It is satisfied
// by *monitorapi.Client.
type MovementPublisher interface {
	PublishEntryExitEvent(ctx context.Context, event map[string]any) (map[string]any, error)
}

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics

	// MQTT settings. MQTT, when set, replaces the session built from them.
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	MQTT      mqtt.ClientInterface

	// Barns are the barn ids or codes the sensors report for.
	Barns          []string
	SensorsPerBarn int
	// Interval is the time between reading cycles
	Interval          time.Duration
	HeartbeatInterval time.Duration

	DangerProbability  float64
	WarningProbability float64
	ErrorProbability   float64

	// MonitorAddr is the gRPC address of the monitoring API. When it or
	// Movements is set, one RFID reader per barn reports livestock movements.
	MonitorAddr      string
	Movements        MovementPublisher
	MovementInterval time.Duration
	HerdSize         int

	// Seed makes the fleet reproducible; zero picks a random one.
	Seed uint64
}

// Server drives a simulated fleet.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	fleet     *Fleet
	mqtt      mqtt.ClientInterface
	movements MovementPublisher
	conn      *grpc.ClientConn
	picker    *gofakeit.Faker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewServer validates cfg and builds the fleet. No network I/O happens
// until Start.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.MQTT == nil && cfg.BrokerURL == "" {
		return nil, errBrokerRequired
	}

	if len(cfg.Barns) == 0 {
		return nil, errNoBarns
	}

	if cfg.SensorsPerBarn <= 0 {
		return nil, errInvalidSensorCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	for _, p := range []float64{cfg.DangerProbability, cfg.WarningProbability, cfg.ErrorProbability} {
		if p < 0 || p > 1 {
			return nil, errInvalidProbability
		}
	}
	if cfg.DangerProbability+cfg.WarningProbability > 1 {
		return nil, errInvalidProbability
	}

	l := logger.Component(cfg.Logger, "simulator")
	s := &Server{
		logger:    l,
		config:    cfg,
		mqtt:      cfg.MQTT,
		movements: cfg.Movements,
		picker:    newFaker(cfg.Seed, 0),
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	s.fleet = &Fleet{
		publisher: publisher{metrics: cfg.Metrics, logger: l},
		weights: generator.Weights{
			Warning: cfg.WarningProbability,
			Danger:  cfg.DangerProbability,
		},
		errorProbability:  cfg.ErrorProbability,
		heartbeatInterval: heartbeat,
		lastHeartbeat:     make(map[string]time.Time),
	}

	n := 0
	for _, barn := range cfg.Barns {
		for range cfg.SensorsPerBarn {
			n++
			s.fleet.sensors = append(s.fleet.sensors,
				generator.NewGasSensor(newFaker(cfg.Seed, uint64(n)), generator.SensorID(n), barn))
		}
	}

	if cfg.MonitorAddr != "" || cfg.Movements != nil {
		herd := cfg.HerdSize
		if herd <= 0 {
			herd = defaultHerdSize
		}
		for i, barn := range cfg.Barns {
			f := newFaker(cfg.Seed, uint64(n+i+1))
			s.fleet.readers = append(s.fleet.readers,
				generator.NewRFIDReader(f, generator.RFIDReaderID(i+1), barn, herd))
		}
	}

	if cfg.Metrics != nil {
		cfg.Metrics.SimulatedDevices.Set(float64(len(s.fleet.sensors) + len(s.fleet.readers)))
	}

	s.logger.Info("created simulated fleet",
		"barns", len(cfg.Barns),
		"gas_sensors", len(s.fleet.sensors),
		"rfid_readers", len(s.fleet.readers),
	)
	return s, nil
}

// Each device gets its own faker so the reading and movement loops never
// share one.
func newFaker(seed, offset uint64) *gofakeit.Faker {
	if seed == 0 {
		return gofakeit.New(0)
	}
	return gofakeit.New(seed + offset)
}

// Fleet returns the simulated devices.
func (s *Server) Fleet() *Fleet {
	return s.fleet
}

// Start opens the broker session, announces every device and starts the
// reading and movement loops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errSimulatorAlreadyUsed
	}
	s.started = true
	s.mu.Unlock()

	if s.mqtt == nil {
		client, err := mqtt.New(mqtt.Config{
			Logger:    s.logger,
			BrokerURL: s.config.BrokerURL,
			ClientID:  s.config.ClientID,
			Username:  s.config.Username,
			Password:  s.config.Password,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT client: %w", err)
		}
		s.mqtt = client
	}
	s.fleet.mqtt = s.mqtt

	if s.movements == nil && s.config.MonitorAddr != "" {
		conn, err := grpc.NewClient(s.config.MonitorAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to create monitoring client: %w", err)
		}
		s.conn = conn
		s.movements = monitorapi.NewClient(conn)
	}

	if err := s.mqtt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt session: %w", err)
	}
	if err := s.waitConnected(ctx); err != nil {
		return err
	}
	if err := s.fleet.Announce(ctx, time.Now()); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runReadings(loopCtx)
	if s.movements != nil && len(s.fleet.readers) > 0 {
		s.wg.Add(1)
		go s.runMovements(loopCtx)
	}

	s.logger.Info("simulator started", "interval", s.config.Interval)
	return nil
}

func (s *Server) waitConnected(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !s.mqtt.IsConnected() {
		select {
		case <-ctx.Done():
			return errNotConnectedInTime
		case <-ticker.C:
		}
	}
	return nil
}

// Run starts the simulator and blocks until a shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.Start(ctx); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	return s.Shutdown()
}

func (s *Server) runReadings(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.fleet.Tick(ctx, now); err != nil {
				// Keep going; the broker session reconnects on its own.
				s.logger.Error("failed to publish simulated telemetry", "error", err)
			}
		}
	}
}

func (s *Server) runMovements(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.MovementInterval
	if interval <= 0 {
		interval = defaultMovementInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Move(ctx, now)
		}
	}
}

// Move sends one movement from a random reader to the monitoring API.
func (s *Server) Move(ctx context.Context, now time.Time) {
	if s.movements == nil || len(s.fleet.readers) == 0 {
		return
	}
	reader := s.fleet.readers[s.picker.Number(0, len(s.fleet.readers)-1)]
	m := reader.Next(now)

	if _, err := s.movements.PublishEntryExitEvent(ctx, m.Event()); err != nil {
		s.fleet.failed(KindMovement, "publish_error")
		s.logger.Error("failed to publish movement", "reader_id", m.ReaderID, "error", err)
		return
	}
	if s.config.Metrics != nil {
		s.config.Metrics.MessagesPublished.WithLabelValues(KindMovement).Inc()
	}
	s.logger.Debug("published movement",
		"reader_id", m.ReaderID,
		"livestock_id", m.LivestockID,
		"event_type", m.EventType,
	)
}

// Shutdown stops the loops, marks every device offline and closes the
// broker session. Calling it again is a no-op.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping simulator")
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	var shutdownErr error
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			ctx, cancelRetire := context.WithTimeout(context.Background(), retireTimeout)
			if err := s.fleet.Retire(ctx, time.Now()); err != nil {
				s.logger.Warn("failed to mark devices offline", "error", err)
			}
			cancelRetire()
		}
		if err := s.mqtt.Close(); err != nil && !errors.Is(err, mqtt.ErrClosed) {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("mqtt close error: %w", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("grpc close error: %w", err))
		}
	}

	s.logger.Info("simulator stopped")
	return shutdownErr
}
