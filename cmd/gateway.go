package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/pkg/metrics"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run a standalone websocket gateway",
	Long: `Run a websocket gateway without ingestion that:
- Accepts viewer connections and barn subscriptions
- Receives events published by backend instances through Redis
- Fans them out to the subscribed viewers`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	// Gateway-specific flags
	gatewayCmd.Flags().Int("http-port", 8080, "HTTP server port")
	gatewayCmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
	gatewayCmd.Flags().String("redis-password", "", "Redis password")
	gatewayCmd.Flags().Int("redis-db", 0, "Redis database")
	gatewayCmd.Flags().StringSlice("allowed-origins", nil, "CORS origins allowed (default any)")

	// Bind flags to viper
	_ = viper.BindPFlag("gateway.http.port", gatewayCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("gateway.redis.addr", gatewayCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("gateway.redis.password", gatewayCmd.Flags().Lookup("redis-password"))
	_ = viper.BindPFlag("gateway.redis.db", gatewayCmd.Flags().Lookup("redis-db"))
	_ = viper.BindPFlag("gateway.cors.allowed_origins", gatewayCmd.Flags().Lookup("allowed-origins"))
}

func runGateway(_ *cobra.Command, _ []string) error {
	logger := GetLogger("gateway")
	logger.Info("starting gateway service")

	addr := viper.GetString("gateway.redis.addr")
	if addr == "" {
		return errors.New("a standalone gateway needs a redis address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("gateway.redis.password"),
		DB:       viper.GetInt("gateway.redis.db"),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	gatewayMetrics := metrics.NewGatewayMetrics(metrics.Namespace)
	hub, err := gateway.NewHub(&gateway.HubConfig{
		Logger:  logger,
		Metrics: gatewayMetrics,
	})
	if err != nil {
		return err
	}
	relay, err := gateway.NewRelay(&gateway.RelayConfig{
		Logger:  logger,
		Metrics: gatewayMetrics,
		Redis:   rdb,
		Hub:     hub,
	})
	if err != nil {
		return err
	}

	server, err := gateway.NewServer(&gateway.ServerConfig{
		Logger:         logger,
		Hub:            hub,
		Relay:          relay,
		HTTPPort:       viper.GetInt("gateway.http.port"),
		AllowedOrigins: viper.GetStringSlice("gateway.cors.allowed_origins"),
	})
	if err != nil {
		logger.Error("failed to create gateway server", "error", err)
		return err
	}

	logger.Info("gateway server configuration",
		"http_port", viper.GetInt("gateway.http.port"),
		"redis_addr", addr,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("gateway server error", "error", err)
		return err
	}

	logger.Info("gateway server stopped")
	return nil
}
