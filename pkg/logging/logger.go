// Package logging configures structured logging with zerolog.
//
// Library packages log through the global zerolog logger. Programs call
// Setup once at startup; components derive their own logger with
// NewLogger so every line carries a component field.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is a minimum log level name as accepted by ParseLevel.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config selects the level and format of the global logger. Output
// defaults to stderr. Pretty switches from JSON lines to console output.
type Config struct {
	Level  Level
	Pretty bool
	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs a logger built from cfg as the global zerolog logger and
// returns it. An unknown level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(writer(cfg)).With().Timestamp().Logger()
	return log.Logger
}

func writer(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.Pretty {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
}

// ParseLevel converts a level name to a zerolog.Level. Names are case
// insensitive; the empty name is info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// What goes where:
//
// Debug: page fetches (endpoint, records, token presence), cache hits and
// writes, retry backoff.
//
// Info: parallel run start, progress and completion; export files written;
// cache invalidation; Redis connection.
//
// Warn: failed splits, exhausted quota while waiting for reset, circuit
// breaker state changes, cache errors that fall back to a direct request.
//
// Error: command failures and metrics server failures in cm-export.
//
// Common fields: component (cm-client, cm-export), endpoint, run_id, split,
// status, error_class, remaining, request_id.
