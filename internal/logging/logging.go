// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package logging constructs the loggers used by the relay commands.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override logging settings.
const (
	EnvLogLevel   = "RELAY_LOG_LEVEL"
	EnvLogJSON    = "RELAY_LOG_JSON"
	EnvLogNoColor = "RELAY_LOG_NOCOLOR"
)

// Config are settings for a logger.
type Config struct {
	Level   zerolog.Level
	JSON    bool // emit JSON records instead of console text
	NoColor bool
}

// DefaultConfig returns the default logging settings.
func DefaultConfig() Config { return Config{Level: zerolog.InfoLevel} }

// ApplyEnv updates cfg from the environment. Unset or invalid values are
// ignored.
func (c *Config) ApplyEnv() {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		c.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		c.JSON = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		c.NoColor = v
	}
}

// New constructs a logger writing to w with the given settings. The logger
// tags each record with the name of the app.
func New(w io.Writer, app string, cfg Config) zerolog.Logger {
	out := w
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: cfg.NoColor}
	}
	return zerolog.New(out).Level(cfg.Level).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel parses the name of a log level, and reports whether it was
// recognized.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
