// Package backend wires the ingestion, monitoring, device, alert and
// gateway components into one process and serves the gRPC monitoring API.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/internal/ingestion"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/internal/storage"
	"procodus.dev/barn-monitor/internal/storage/influx"
	"procodus.dev/barn-monitor/internal/storage/memory"
	"procodus.dev/barn-monitor/pkg/metrics"
	"procodus.dev/barn-monitor/pkg/monitorapi"
	"procodus.dev/barn-monitor/pkg/mq"
	"procodus.dev/barn-monitor/pkg/mqtt"
)

// DefaultNotificationQueue is the RabbitMQ queue alert envelopes are published to.
const DefaultNotificationQueue = "alert-notifications"

const notifierDrainTimeout = 10 * time.Second

type serverMetrics struct {
	monitoring *metrics.MonitoringMetrics
	ingestion  *metrics.IngestionMetrics
	gateway    *metrics.GatewayMetrics
	query      *metrics.QueryMetrics
	mq         *metrics.MQMetrics
}

// Collectors live on the global registry, which refuses duplicates, so they
// are created once per process no matter how many servers run.
var processMetrics = sync.OnceValue(func() *serverMetrics {
	return &serverMetrics{
		monitoring: metrics.NewMonitoringMetrics(metrics.Namespace),
		ingestion:  metrics.NewIngestionMetrics(metrics.Namespace),
		gateway:    metrics.NewGatewayMetrics(metrics.Namespace),
		query:      metrics.NewQueryMetrics(metrics.Namespace),
		mq:         metrics.NewMQMetrics(metrics.Namespace),
	}
})

// Server represents the backend server that manages storage, ingestion,
// the gateway and gRPC.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	db          *gorm.DB
	redis       *redis.Client
	sink        *influx.Sink
	publisher   *mq.Client
	alerts      *alerts.Manager
	monitoring  *monitoring.Handler
	ingestion   *ingestion.Client
	sweeper     *devices.Sweeper
	reaper      *monitoring.Reaper
	grpcServer  *grpc.Server
	gateway     *gateway.Server
	relay       *gateway.Relay
	grpcAddress net.Addr
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration. An empty DBHost runs the server on in-memory
	// stores, which do not survive a restart.
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// MQTT configuration
	MQTTBrokerURL            string
	MQTTClientID             string
	MQTTUsername             string
	MQTTPassword             string
	MQTTMaxReconnectAttempts int

	// MQTT replaces the broker session built from the MQTT settings.
	MQTT mqtt.ClientInterface

	// Notification configuration; both targets are optional.
	RabbitMQURL       string
	NotificationQueue string
	WebhookURL        string

	// Redis is optional. It enables the barn lookup cache and the gateway
	// relay between instances.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// InfluxDB is optional.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// gRPC configuration
	GRPCPort int

	// HTTPPort serves the websocket gateway; zero disables it.
	HTTPPort       int
	AllowedOrigins []string

	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	ReapInterval     time.Duration

	// SeedBarns are upserted into the barn directory on start.
	SeedBarns []model.Barn
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.MQTT == nil && cfg.MQTTBrokerURL == "" {
		return nil, errors.New("MQTT broker URL cannot be empty")
	}

	if cfg.DBHost != "" {
		if cfg.DBPort <= 0 {
			return nil, errors.New("database port must be positive")
		}

		if cfg.DBUser == "" {
			return nil, errors.New("database user cannot be empty")
		}

		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// GRPCAddr returns the address the gRPC server listens on once started.
func (s *Server) GRPCAddr() net.Addr {
	return s.grpcAddress
}

// IngestionConnected reports whether the ingestion client holds a broker
// session.
func (s *Server) IngestionConnected() bool {
	return s.ingestion != nil && s.ingestion.IsConnected()
}

type stores struct {
	devices  devices.Store
	alerts   alerts.Store
	readings monitoring.ReadingStore
	barns    monitoring.BarnDirectory
}

func (s *Server) openStores(ctx context.Context) (*stores, error) {
	if s.config.DBHost == "" {
		s.logger.Warn("no database configured, running on in-memory stores")
		barns := memory.NewBarnDirectory(s.config.SeedBarns...)
		return &stores{
			devices:  memory.NewDeviceStore(),
			alerts:   memory.NewAlertStore(),
			readings: memory.NewReadingStore(),
			barns:    barns,
		}, nil
	}

	db, err := storage.NewDB(&storage.DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	barns := storage.NewBarnDirectory(db)
	if err := barns.Upsert(ctx, s.config.SeedBarns...); err != nil {
		return nil, err
	}

	s.logger.Info("database initialized successfully")
	return &stores{
		devices:  storage.NewDeviceStore(db),
		alerts:   storage.NewAlertStore(db),
		readings: storage.NewReadingStore(db),
		barns:    barns,
	}, nil
}

func (s *Server) notifiers(m *serverMetrics) ([]alerts.Notifier, error) {
	var out []alerts.Notifier

	if s.config.RabbitMQURL != "" {
		queue := s.config.NotificationQueue
		if queue == "" {
			queue = DefaultNotificationQueue
		}
		publisher, err := mq.New(mq.Config{
			Logger:    s.logger,
			Metrics:   m.mq,
			URL:       s.config.RabbitMQURL,
			QueueName: queue,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create notification publisher: %w", err)
		}
		s.publisher = publisher

		n, err := alerts.NewAMQPNotifier(publisher)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	if s.config.WebhookURL != "" {
		n, err := alerts.NewWebhookNotifier(s.config.WebhookURL, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	return out, nil
}

// Start builds every component and starts them in dependency order. It
// returns once the server is serving; the channel reports a gRPC or HTTP
// listener failure.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	m := processMetrics()

	st, err := s.openStores(ctx)
	if err != nil {
		return nil, err
	}

	barns := st.barns
	if s.config.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
			DB:       s.config.RedisDB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		barns, err = monitoring.NewCachedBarnDirectory(st.barns, s.redis, monitoring.DefaultBarnCacheTTL, s.logger)
		if err != nil {
			return nil, err
		}
	}

	// Gateway
	hub, err := gateway.NewHub(&gateway.HubConfig{Logger: s.logger, Metrics: m.gateway})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hub: %w", err)
	}
	var broadcaster interface {
		alerts.Broadcaster
		monitoring.Broadcaster
		EntryExitBroadcaster
	} = hub
	if s.redis != nil {
		s.relay, err = gateway.NewRelay(&gateway.RelayConfig{
			Logger:  s.logger,
			Metrics: m.gateway,
			Redis:   s.redis,
			Hub:     hub,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize relay: %w", err)
		}
		broadcaster = s.relay
	}

	// Alerts
	notifiers, err := s.notifiers(m)
	if err != nil {
		return nil, err
	}
	s.alerts, err = alerts.NewManager(&alerts.ManagerConfig{
		Logger:      s.logger,
		Store:       st.alerts,
		Broadcaster: broadcaster,
		Metrics:     m.monitoring,
		Notifiers:   notifiers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alert manager: %w", err)
	}

	// Devices
	tracker, err := devices.NewTracker(&devices.TrackerConfig{
		Logger:  s.logger,
		Store:   st.devices,
		Metrics: m.monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize device tracker: %w", err)
	}
	deviceHandler, err := devices.NewHandler(tracker, s.logger)
	if err != nil {
		return nil, err
	}
	s.sweeper, err = devices.NewSweeper(tracker, s.logger, s.config.HeartbeatTimeout, s.config.SweepInterval)
	if err != nil {
		return nil, err
	}

	// Readings
	var sink monitoring.ReadingSink
	if s.config.InfluxURL != "" {
		s.sink, err = influx.NewSink(&influx.SinkConfig{
			Logger: s.logger,
			URL:    s.config.InfluxURL,
			Token:  s.config.InfluxToken,
			Org:    s.config.InfluxOrg,
			Bucket: s.config.InfluxBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize influx sink: %w", err)
		}
		if err := s.sink.Ping(ctx); err != nil {
			s.logger.Warn("influxdb is not reachable yet, mirroring will retry per reading", "error", err)
		}
		sink = s.sink
	}
	s.monitoring, err = monitoring.NewHandler(&monitoring.HandlerConfig{
		Logger:      s.logger,
		Metrics:     m.monitoring,
		Barns:       barns,
		Readings:    st.readings,
		Broadcaster: broadcaster,
		Alerter:     s.alerts,
		Sink:        sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitoring handler: %w", err)
	}
	s.reaper, err = monitoring.NewReaper(s.monitoring, s.logger, s.config.ReapInterval)
	if err != nil {
		return nil, err
	}

	// Ingestion
	dispatcher := ingestion.NewDispatcher(s.logger, m.ingestion)
	s.monitoring.Register(dispatcher)
	dispatcher.OnSensorReading(deviceHandler.HandleReading)
	dispatcher.OnDeviceStatus(deviceHandler.HandleStatus)
	dispatcher.OnDeviceHeartbeat(deviceHandler.HandleHeartbeat)
	dispatcher.OnDeviceError(deviceHandler.HandleError)

	session := s.config.MQTT
	if session == nil {
		session, err = mqtt.New(mqtt.Config{
			Logger:               s.logger,
			ConnectionStatus:     m.ingestion.ConnectionStatus,
			ReconnectAttempts:    m.ingestion.ReconnectAttempts,
			BrokerURL:            s.config.MQTTBrokerURL,
			ClientID:             s.config.MQTTClientID,
			Username:             s.config.MQTTUsername,
			Password:             s.config.MQTTPassword,
			MaxReconnectAttempts: s.config.MQTTMaxReconnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MQTT client: %w", err)
		}
	}
	s.ingestion, err = ingestion.NewClient(&ingestion.ClientConfig{
		Logger:     s.logger,
		Metrics:    m.ingestion,
		MQTT:       session,
		Dispatcher: dispatcher,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingestion client: %w", err)
	}

	// gRPC
	service, err := NewMonitoringService(&MonitoringServiceConfig{
		Logger:       s.logger,
		Metrics:      m.query,
		Tracker:      tracker,
		Devices:      deviceHandler,
		Readings:     s.monitoring,
		Alerts:       s.alerts,
		Broadcaster:  broadcaster,
		SweepTimeout: s.sweeper.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gRPC service: %w", err)
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(service.UnaryInterceptor()))
	monitorapi.RegisterMonitoringServiceServer(s.grpcServer, service)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(monitorapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}
	s.grpcAddress = lis.Addr()

	errs := make(chan error, 2)
	s.logger.Info("starting gRPC server", "address", grpcAddr)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errs <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	if s.config.HTTPPort > 0 {
		s.gateway, err = gateway.NewServer(&gateway.ServerConfig{
			Logger:         s.logger,
			Hub:            hub,
			Relay:          s.relay,
			HTTPPort:       s.config.HTTPPort,
			AllowedOrigins: s.config.AllowedOrigins,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gateway: %w", err)
		}
		httpErr, err := s.gateway.Start(ctx)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := <-httpErr; err != nil {
				errs <- err
			}
		}()
	} else if s.relay != nil {
		if err := s.relay.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start relay: %w", err)
		}
	}

	if err := s.ingestion.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start ingestion: %w", err)
	}
	s.sweeper.Start(ctx)
	s.reaper.Start(ctx)

	s.logger.Info("backend server started successfully")
	return errs, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	errs, err := s.Start(ctx)
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-errs:
		s.logger.Error("server error", "error", err)
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	// Shutdown
	return s.Shutdown()
}

// Shutdown stops the components in reverse dependency order: ingestion
// first so nothing new arrives, the database last.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var shutdownErr error

	// Stop ingestion
	if s.ingestion != nil {
		s.logger.Info("stopping ingestion")
		if err := s.ingestion.Close(); err != nil && !errors.Is(err, mqtt.ErrClosed) {
			s.logger.Error("failed to stop ingestion", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("ingestion shutdown error: %w", err))
		}
	}
	if s.monitoring != nil {
		s.monitoring.Unregister()
	}

	// Stop background loops
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.reaper != nil {
		s.reaper.Stop()
	}

	// Stop gRPC server
	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	// Stop gateway, which also closes the relay
	if s.gateway != nil {
		if err := s.gateway.Shutdown(); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("gateway shutdown error: %w", err))
		}
	} else if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("relay close error: %w", err))
		}
	}

	// Let pending notifications finish
	if s.alerts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifierDrainTimeout)
		if err := s.alerts.Wait(ctx); err != nil {
			s.logger.Warn("pending notifications did not finish in time", "error", err)
		}
		cancel()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close notification publisher", "error", err)
		}
	}
	if s.sink != nil {
		s.sink.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("failed to close redis client", "error", err)
		}
	}

	// Close database
	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := storage.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
