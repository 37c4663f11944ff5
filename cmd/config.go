package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/mqtt"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml), a .env file and
// environment variables.
func InitConfig(cfgFile string) error {
	// A missing .env is fine; anything else is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/barn-monitor/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/barn-monitor/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("BARN_MONITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration and routes the
// MQTT library's own output through it.
func GetLogger(service string) *slog.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(viper.GetString("log.level"))
	cfg.Service = service

	l := logger.New(cfg)
	mqtt.InstallLogger(l)
	return l
}

// parseBarns reads barn seeds written as "id:code:farmId" or
// "id:code:farmId:name".
func parseBarns(entries []string) ([]model.Barn, error) {
	barns := make([]model.Barn, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid barn %q: want id:code:farmId[:name]", entry)
		}
		b := model.Barn{ID: parts[0], Code: parts[1], FarmID: parts[2]}
		if len(parts) == 4 {
			b.Name = parts[3]
		}
		barns = append(barns, b)
	}
	return barns, nil
}
