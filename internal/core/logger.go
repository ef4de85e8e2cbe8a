package core

import (
	"io"
	"log/slog"
	"os"
)

// ParseLevel maps a level name (debug, info, warn, error) to a slog level.
// Unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
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

// NewLogger returns a text logger on stderr. verbose forces debug level.
func NewLogger(level string, verbose bool) *slog.Logger {
	return NewLoggerWithWriter(os.Stderr, level, verbose)
}

// NewLoggerWithWriter is NewLogger with a custom destination.
func NewLoggerWithWriter(w io.Writer, level string, verbose bool) *slog.Logger {
	l := ParseLevel(level)
	if verbose {
		l = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// DiscardLogger drops everything. Used as the default when no logger is supplied.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
