package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/barn-monitor/internal/simulator"
	"procodus.dev/barn-monitor/pkg/generator"
	"procodus.dev/barn-monitor/pkg/metrics"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the telemetry simulator",
	Long: `Run the telemetry simulator that:
- Publishes synthetic gas readings for every barn over MQTT
- Publishes device status, heartbeat and error messages
- Optionally sends livestock movements to the monitoring API`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	// Simulator-specific flags
	simulatorCmd.Flags().String("mqtt-broker-url", "tcp://localhost:1883", "MQTT broker URL")
	simulatorCmd.Flags().String("mqtt-client-id", "barn-monitor-simulator", "MQTT client id prefix")
	simulatorCmd.Flags().StringSlice("barns", []string{"BARN-001", "BARN-002"}, "barn ids or codes to simulate")
	simulatorCmd.Flags().Int("sensors-per-barn", 2, "gas sensors per barn")
	simulatorCmd.Flags().Duration("interval", 10*time.Second, "interval between reading cycles")
	simulatorCmd.Flags().Float64("danger-probability", generator.DefaultWeights.Danger, "probability of a danger reading")
	simulatorCmd.Flags().Float64("warning-probability", generator.DefaultWeights.Warning, "probability of a warning reading")
	simulatorCmd.Flags().Float64("error-probability", 0.02, "probability of a sensor fault per cycle")
	simulatorCmd.Flags().String("monitor-addr", "", "monitoring gRPC address for livestock movements (optional)")
	simulatorCmd.Flags().Duration("movement-interval", 30*time.Second, "interval between livestock movements")
	simulatorCmd.Flags().Int("metrics-port", 0, "port serving Prometheus metrics (0 disables it)")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.mqtt.broker_url", simulatorCmd.Flags().Lookup("mqtt-broker-url"))
	_ = viper.BindPFlag("simulator.mqtt.client_id", simulatorCmd.Flags().Lookup("mqtt-client-id"))
	_ = viper.BindPFlag("simulator.barns", simulatorCmd.Flags().Lookup("barns"))
	_ = viper.BindPFlag("simulator.sensors_per_barn", simulatorCmd.Flags().Lookup("sensors-per-barn"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.danger_probability", simulatorCmd.Flags().Lookup("danger-probability"))
	_ = viper.BindPFlag("simulator.warning_probability", simulatorCmd.Flags().Lookup("warning-probability"))
	_ = viper.BindPFlag("simulator.error_probability", simulatorCmd.Flags().Lookup("error-probability"))
	_ = viper.BindPFlag("simulator.monitor_addr", simulatorCmd.Flags().Lookup("monitor-addr"))
	_ = viper.BindPFlag("simulator.movement_interval", simulatorCmd.Flags().Lookup("movement-interval"))
	_ = viper.BindPFlag("simulator.metrics.port", simulatorCmd.Flags().Lookup("metrics-port"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger("simulator")
	logger.Info("starting simulator service")

	config := &simulator.ServerConfig{
		Logger:             logger,
		Metrics:            metrics.NewSimulatorMetrics(metrics.Namespace),
		BrokerURL:          viper.GetString("simulator.mqtt.broker_url"),
		ClientID:           viper.GetString("simulator.mqtt.client_id"),
		Barns:              viper.GetStringSlice("simulator.barns"),
		SensorsPerBarn:     viper.GetInt("simulator.sensors_per_barn"),
		Interval:           viper.GetDuration("simulator.interval"),
		DangerProbability:  viper.GetFloat64("simulator.danger_probability"),
		WarningProbability: viper.GetFloat64("simulator.warning_probability"),
		ErrorProbability:   viper.GetFloat64("simulator.error_probability"),
		MonitorAddr:        viper.GetString("simulator.monitor_addr"),
		MovementInterval:   viper.GetDuration("simulator.movement_interval"),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	if port := viper.GetInt("simulator.metrics.port"); port > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	logger.Info("simulator configuration",
		"mqtt_broker", config.BrokerURL,
		"barns", config.Barns,
		"sensors_per_barn", config.SensorsPerBarn,
		"interval", config.Interval,
		"danger_probability", config.DangerProbability,
		"movements", config.MonitorAddr != "",
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
