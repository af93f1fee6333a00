// Package observability provides structured logging and Prometheus metrics
// for the chat service.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text". JSON is
	// recommended for production, text for development.
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line number in log records.
	AddSource bool `yaml:"add_source"`
}

// NewLogger builds the root slog logger. Component loggers derive from it
// via logger.With("component", ...).
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
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
