package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/barn-monitor/internal/backend"
	"procodus.dev/barn-monitor/internal/devices"
	"procodus.dev/barn-monitor/internal/monitoring"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Consumes gas readings and device traffic from MQTT
- Tracks device lifecycle and marks silent devices offline
- Persists readings, devices and alerts to PostgreSQL
- Raises gas alerts and notifies RabbitMQ and webhook subscribers
- Pushes live events to websocket viewers
- Serves gRPC API endpoints`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	// Backend-specific flags
	backendCmd.Flags().String("db-host", "localhost", "PostgreSQL host (empty runs on in-memory stores)")
	backendCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	backendCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	backendCmd.Flags().String("db-password", "", "PostgreSQL password")
	backendCmd.Flags().String("db-name", "barns", "PostgreSQL database name")
	backendCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	backendCmd.Flags().String("mqtt-broker-url", "tcp://localhost:1883", "MQTT broker URL")
	backendCmd.Flags().String("mqtt-client-id", "barn-monitor-backend", "MQTT client id prefix")
	backendCmd.Flags().String("mqtt-username", "", "MQTT username")
	backendCmd.Flags().String("mqtt-password", "", "MQTT password")
	backendCmd.Flags().Int("mqtt-max-reconnect-attempts", 10, "reconnect attempts before a warning is logged")
	backendCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL for alert notifications (optional)")
	backendCmd.Flags().String("notification-queue", backend.DefaultNotificationQueue, "RabbitMQ queue name for alert notifications")
	backendCmd.Flags().String("webhook-url", "", "webhook URL for alert notifications (optional)")
	backendCmd.Flags().String("redis-addr", "", "Redis address for the barn cache and gateway relay (optional)")
	backendCmd.Flags().String("redis-password", "", "Redis password")
	backendCmd.Flags().Int("redis-db", 0, "Redis database")
	backendCmd.Flags().String("influx-url", "", "InfluxDB URL for the reading mirror (optional)")
	backendCmd.Flags().String("influx-token", "", "InfluxDB token")
	backendCmd.Flags().String("influx-org", "", "InfluxDB organization")
	backendCmd.Flags().String("influx-bucket", "", "InfluxDB bucket")
	backendCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	backendCmd.Flags().Int("http-port", 8080, "websocket gateway port (0 disables it)")
	backendCmd.Flags().StringSlice("allowed-origins", nil, "CORS origins allowed on the gateway (default any)")
	backendCmd.Flags().Duration("heartbeat-timeout", devices.DefaultHeartbeatTimeout, "silence after which an online device is marked offline")
	backendCmd.Flags().Duration("sweep-interval", devices.DefaultSweepInterval, "interval between stale device sweeps")
	backendCmd.Flags().Duration("reap-interval", monitoring.DefaultReapInterval, "interval between expired reading purges")
	backendCmd.Flags().StringSlice("seed-barns", nil, "barns to upsert on start, as id:code:farmId[:name]")

	// Bind flags to viper
	_ = viper.BindPFlag("backend.db.host", backendCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("backend.db.port", backendCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("backend.db.user", backendCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("backend.db.password", backendCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("backend.db.name", backendCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("backend.db.sslmode", backendCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("backend.mqtt.broker_url", backendCmd.Flags().Lookup("mqtt-broker-url"))
	_ = viper.BindPFlag("backend.mqtt.client_id", backendCmd.Flags().Lookup("mqtt-client-id"))
	_ = viper.BindPFlag("backend.mqtt.username", backendCmd.Flags().Lookup("mqtt-username"))
	_ = viper.BindPFlag("backend.mqtt.password", backendCmd.Flags().Lookup("mqtt-password"))
	_ = viper.BindPFlag("backend.mqtt.max_reconnect_attempts", backendCmd.Flags().Lookup("mqtt-max-reconnect-attempts"))
	_ = viper.BindPFlag("backend.rabbitmq.url", backendCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("backend.rabbitmq.notification_queue", backendCmd.Flags().Lookup("notification-queue"))
	_ = viper.BindPFlag("backend.webhook.url", backendCmd.Flags().Lookup("webhook-url"))
	_ = viper.BindPFlag("backend.redis.addr", backendCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("backend.redis.password", backendCmd.Flags().Lookup("redis-password"))
	_ = viper.BindPFlag("backend.redis.db", backendCmd.Flags().Lookup("redis-db"))
	_ = viper.BindPFlag("backend.influx.url", backendCmd.Flags().Lookup("influx-url"))
	_ = viper.BindPFlag("backend.influx.token", backendCmd.Flags().Lookup("influx-token"))
	_ = viper.BindPFlag("backend.influx.org", backendCmd.Flags().Lookup("influx-org"))
	_ = viper.BindPFlag("backend.influx.bucket", backendCmd.Flags().Lookup("influx-bucket"))
	_ = viper.BindPFlag("backend.grpc.port", backendCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("backend.http.port", backendCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("backend.cors.allowed_origins", backendCmd.Flags().Lookup("allowed-origins"))
	_ = viper.BindPFlag("backend.devices.heartbeat_timeout", backendCmd.Flags().Lookup("heartbeat-timeout"))
	_ = viper.BindPFlag("backend.devices.sweep_interval", backendCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("backend.retention.reap_interval", backendCmd.Flags().Lookup("reap-interval"))
	_ = viper.BindPFlag("backend.seed_barns", backendCmd.Flags().Lookup("seed-barns"))
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("backend")
	logger.Info("starting backend service")

	barns, err := parseBarns(viper.GetStringSlice("backend.seed_barns"))
	if err != nil {
		logger.Error("invalid barn seeds", "error", err)
		return err
	}

	// Create backend configuration from viper
	config := &backend.ServerConfig{
		Logger:                   logger,
		DBHost:                   viper.GetString("backend.db.host"),
		DBPort:                   viper.GetInt("backend.db.port"),
		DBUser:                   viper.GetString("backend.db.user"),
		DBPassword:               viper.GetString("backend.db.password"),
		DBName:                   viper.GetString("backend.db.name"),
		DBSSLMode:                viper.GetString("backend.db.sslmode"),
		MQTTBrokerURL:            viper.GetString("backend.mqtt.broker_url"),
		MQTTClientID:             viper.GetString("backend.mqtt.client_id"),
		MQTTUsername:             viper.GetString("backend.mqtt.username"),
		MQTTPassword:             viper.GetString("backend.mqtt.password"),
		MQTTMaxReconnectAttempts: viper.GetInt("backend.mqtt.max_reconnect_attempts"),
		RabbitMQURL:              viper.GetString("backend.rabbitmq.url"),
		NotificationQueue:        viper.GetString("backend.rabbitmq.notification_queue"),
		WebhookURL:               viper.GetString("backend.webhook.url"),
		RedisAddr:                viper.GetString("backend.redis.addr"),
		RedisPassword:            viper.GetString("backend.redis.password"),
		RedisDB:                  viper.GetInt("backend.redis.db"),
		InfluxURL:                viper.GetString("backend.influx.url"),
		InfluxToken:              viper.GetString("backend.influx.token"),
		InfluxOrg:                viper.GetString("backend.influx.org"),
		InfluxBucket:             viper.GetString("backend.influx.bucket"),
		GRPCPort:                 viper.GetInt("backend.grpc.port"),
		HTTPPort:                 viper.GetInt("backend.http.port"),
		AllowedOrigins:           viper.GetStringSlice("backend.cors.allowed_origins"),
		HeartbeatTimeout:         viper.GetDuration("backend.devices.heartbeat_timeout"),
		SweepInterval:            viper.GetDuration("backend.devices.sweep_interval"),
		ReapInterval:             viper.GetDuration("backend.retention.reap_interval"),
		SeedBarns:                barns,
	}

	// Create and run server
	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"mqtt_broker", config.MQTTBrokerURL,
		"notifications_rabbitmq", config.RabbitMQURL != "",
		"notifications_webhook", config.WebhookURL != "",
		"redis", config.RedisAddr != "",
		"influx", config.InfluxURL != "",
		"grpc_port", config.GRPCPort,
		"http_port", config.HTTPPort,
		"heartbeat_timeout", config.HeartbeatTimeout.Round(time.Second),
		"seed_barns", len(barns),
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
