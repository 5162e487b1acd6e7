// Package logging configures the process-wide slog logger and provides the
// HTTP plumbing around it: an access-log middleware and handlers for reading
// and changing the log level at runtime.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dusted-go/logging/prettylog"
)

// Log output formats.
const (
	LogText    = "text"
	LogJSON    = "json"
	LogPretty  = "pretty"
	LogDiscard = "discard"
)

// LogFormats lists the accepted log formats.
var LogFormats = []string{LogText, LogJSON, LogPretty, LogDiscard}

// LogLevels lists the accepted log levels.
var LogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

var logLevel = new(slog.LevelVar)

// InitSlog makes a logger with the given level and format the slog default.
// The level can be changed later with SetLogLevel.
func InitSlog(level, format string) error {
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	switch format {
	case LogText:
		h = slog.NewTextHandler(os.Stdout, opts)
	case LogJSON:
		h = slog.NewJSONHandler(os.Stdout, opts)
	case LogPretty:
		h = prettylog.NewHandler(opts)
	case LogDiscard:
		h = slog.NewTextHandler(io.Discard, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return SetLogLevel(level)
}

// SetLogLevel changes the level of the default logger.
// An empty level means INFO.
func SetLogLevel(level string) error {
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "INFO", "":
		logLevel.Set(slog.LevelInfo)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// LogLevel returns the current level of the default logger.
func LogLevel() string {
	return logLevel.Level().String()
}
