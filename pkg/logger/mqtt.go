package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// MQTTBridge adapts a slog.Logger to the Println/Printf logger interface
// used by the paho MQTT client for its ERROR, CRITICAL, WARN and DEBUG sinks.
type MQTTBridge struct {
	logger *slog.Logger
	level  slog.Level
}

// NewMQTTBridge returns a bridge that writes every paho line at level.
func NewMQTTBridge(l *slog.Logger, level slog.Level) *MQTTBridge {
	return &MQTTBridge{
		logger: l.With(slog.String("source", "paho")),
		level:  level,
	}
}

// Println implements the paho Logger interface.
func (b *MQTTBridge) Println(v ...interface{}) {
	b.write(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Printf implements the paho Logger interface.
func (b *MQTTBridge) Printf(format string, v ...interface{}) {
	b.write(fmt.Sprintf(format, v...))
}

func (b *MQTTBridge) write(msg string) {
	if !b.logger.Enabled(context.Background(), b.level) {
		return
	}
	b.logger.Log(context.Background(), b.level, msg)
}
