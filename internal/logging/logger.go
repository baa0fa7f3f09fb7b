package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sytallax/prettylog"
)

// Config represents logging configuration
type Config struct {
	Level  string `json:"level" yaml:"level" env:"VISITORHUB_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"VISITORHUB_LOG_FORMAT"`
}

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a logger writing json or text records to w.
// The pretty format always writes to stdout.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "pretty":
		handler = prettylog.NewHandler(opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithFields adds fields to the logger
func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return &Logger{
		Logger: l.With(attrs...),
	}
}

// parseLevel parses a string log level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
