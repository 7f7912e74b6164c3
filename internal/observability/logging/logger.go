package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger writes JSON lines to stdout tagged with service and, when set, stage.
func NewJSONLogger(service, stage, level string) *slog.Logger {
	return newLogger(os.Stdout, service, stage, level)
}

// Setup installs the logger as the process default so package-level slog calls carry the same fields.
func Setup(service, stage, level string) *slog.Logger {
	logger := NewJSONLogger(service, stage, level)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, service, stage, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler).With("service", service)
	if stage = strings.TrimSpace(stage); stage != "" {
		logger = logger.With("stage", stage)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
