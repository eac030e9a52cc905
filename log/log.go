// Package log provides structured logging for the grove engine. It wraps
// log/slog with per-module child loggers so subsystems (merk, storage,
// batch) carry their own context. The engine is a library, so a nil logger
// is valid and discards everything; embedders opt into output.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with engine conveniences. A nil *Logger is valid
// and discards all output.
type Logger struct {
	inner *slog.Logger
}

// New creates a Logger writing JSON to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied handler. Useful for
// tests and custom destinations.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// Default returns a logger writing Info and above to stderr.
func Default() *Logger {
	return New(os.Stderr, slog.LevelInfo)
}

// Module returns a child logger carrying a "module" attribute. Subsystems
// obtain their contextual logger this way.
func (l *Logger) Module(name string) *Logger {
	if l == nil || l.inner == nil {
		return l
	}
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.inner == nil {
		return l
	}
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) {
	if l != nil && l.inner != nil {
		l.inner.Debug(msg, args...)
	}
}

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) {
	if l != nil && l.inner != nil {
		l.inner.Info(msg, args...)
	}
}

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) {
	if l != nil && l.inner != nil {
		l.inner.Warn(msg, args...)
	}
}

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) {
	if l != nil && l.inner != nil {
		l.inner.Error(msg, args...)
	}
}
