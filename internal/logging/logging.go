package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide root logger. Production environments
// get JSON for the log pipeline; dev gets the text handler so local output
// stays readable.
func NewLogger(level, serviceName, env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if env == "dev" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}

// WithComponent tags a child logger with the subsystem it serves, so the
// http, consumer, and storage lines are separable in one stream.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", component))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
