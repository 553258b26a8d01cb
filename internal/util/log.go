// Package util provides shared utility functions for logging, retries, rate
// limiting, and trading calendar operations.
package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a structured logger using log/slog at the specified
// level. Defaults to "info" if the level string is not recognised.
func NewLogger(level string) *slog.Logger {
	return NewWriterLogger(level, os.Stdout)
}

// NewWriterLogger is NewLogger writing to w.
func NewWriterLogger(level string, w io.Writer) *slog.Logger {
	slevel, _ := ParseLevel(level)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slevel}))
}

// NewFileLogger logs to console and to a size-rotated file at path. The
// returned closer flushes and closes the file.
func NewFileLogger(level, path string, console io.Writer) (*slog.Logger, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	return NewWriterLogger(level, io.MultiWriter(console, file)), file
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
