package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
)

// Server represents the gateway HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	config     *ServerConfig
	handler    http.Handler
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger
	Hub    *Hub

	// Relay is optional. When set it is started with the server and closed
	// after the HTTP server has stopped.
	Relay *Relay

	// HTTP server configuration
	HTTPPort       int
	AllowedOrigins []string
}

// NewServer creates a new gateway Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Hub == nil {
		return nil, errors.New("hub cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	s := &Server{
		logger: logger.Component(cfg.Logger, "gateway-server"),
		config: cfg,
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the routed and CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the relay and the HTTP listener and returns immediately. The
// returned channel reports a listener failure and is closed when it stops.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	if s.config.Relay != nil {
		if err := s.config.Relay.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start relay: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()
	return httpErr, nil
}

// Run starts the gateway and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting gateway server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	httpErr, err := s.Start(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("gateway server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown stops accepting connections, disconnects every client and closes
// the relay.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down gateway server")

	var shutdownErr error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	// Hijacked websocket connections are not tracked by http.Server.
	s.config.Hub.Close()

	if s.config.Relay != nil {
		s.logger.Info("closing relay")
		if err := s.config.Relay.Close(); err != nil {
			s.logger.Error("failed to close relay", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("relay close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("gateway server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("gateway server shutdown completed successfully")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	ws := &wsHandler{
		hub:    s.config.Hub,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if r.Header.Get("Origin") == "" {
					return true
				}
				return c.OriginAllowed(r)
			},
		},
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", metrics.Handler())

	// Viewer connections
	mux.Handle("GET /ws", ws)

	return c.Handler(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.config.Hub.ClientCount())
}
