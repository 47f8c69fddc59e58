// Package logging builds the structured loggers used across icmpforge.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a logger writing to stderr.
// Levels: debug, info, warn, error. Formats: text, json.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter returns a logger writing to w.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
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

// NopLogger returns a logger that discards everything.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Attribute keys shared by every component.
const (
	KeyComponent   = "component"
	KeyBindAddr    = "bind_addr"
	KeySource      = "src"
	KeyDestination = "dst"
	KeyICMPType    = "icmp_type"
	KeyICMPCode    = "icmp_code"
	KeyIdentifier  = "id"
	KeySequence    = "seq"
	KeyLabel       = "response"
	KeyCursor      = "cursor"
	KeyBytes       = "bytes"
	KeyError       = "error"
	KeyCount       = "count"
	KeyDuration    = "duration"
	KeyAddress     = "address"
)
