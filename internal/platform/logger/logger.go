// Package logger builds the structured JSON logger shared by every service.
package logger

import (
	"log/slog"
	"os"

	"github.com/timour/order-microservices/internal/platform/config"
)

// New returns a JSON slog.Logger tagged with serviceName, with level driven
// by LOG_LEVEL (debug|info|warn|error, default info).
func New(serviceName string) *slog.Logger {
	level := parseLevel(config.GetEnv("LOG_LEVEL", "info"))
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", serviceName))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
