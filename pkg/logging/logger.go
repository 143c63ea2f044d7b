// Package logging provides the structured JSON logger shared by every
// binary in the platform.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger configured for JSON output. Embedding keeps
// the full slog API on the wrapper.
type Logger struct {
	*slog.Logger
}

// New returns a JSON logger writing to stdout at the named level.
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a logger writing to the given writer. Tests use this
// to capture output.
func NewWithWriter(level string, w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level stdout logger.
func Default() *Logger {
	return New("info")
}

// Component returns a child logger tagged with the owning component name.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return Default().Component(name)
	}
	return &Logger{Logger: l.Logger.With("component", name)}
}

// parseLevel maps a config string to a slog level, defaulting to info for
// anything it does not recognize.
func parseLevel(level string) slog.Level {
	switch level {
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
