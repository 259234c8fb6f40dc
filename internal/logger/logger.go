// Package logger provides structured logging configuration for the application.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format (default).
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText LogFormat = "text"
)

// Options controls where and how the logger writes.
// Zero values fall back to LOG_LEVEL / LOG_FORMAT and stderr.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a new structured logger based on environment configuration.
// It reads LOG_LEVEL and LOG_FORMAT from environment variables.
//
// LOG_LEVEL options: debug, info, warn, error (default: info)
// LOG_FORMAT options: json, text (default: json).
func New() *slog.Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a logger from explicit options. The agent writes to
// stderr so the console view keeps stdout for itself.
func NewWithOptions(o Options) *slog.Logger {
	if o.Level == "" {
		o.Level = os.Getenv("LOG_LEVEL")
	}
	if o.Format == "" {
		o.Format = os.Getenv("LOG_FORMAT")
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}

	level := parseLevel(o.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location for error and warn levels
		AddSource: level <= slog.LevelWarn,
	}

	var handler slog.Handler
	switch parseFormat(o.Format) {
	case FormatText:
		handler = slog.NewTextHandler(o.Output, opts)
	default:
		handler = slog.NewJSONHandler(o.Output, opts)
	}

	return slog.New(handler)
}

// parseLevel maps a LOG_LEVEL value to the corresponding slog.Level.
func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseFormat maps a LOG_FORMAT value to a LogFormat.
func parseFormat(formatStr string) LogFormat {
	switch strings.ToLower(formatStr) {
	case "text":
		return FormatText
	default:
		return FormatJSON
	}
}

// SetDefault sets the given logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
