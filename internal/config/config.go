// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config loads settings for the relay broker from a TOML file.
//
// Settings not present in the file keep their default values:
//
//	peer_addr = "127.0.0.1:54321"
//	http_addr = "127.0.0.1:8085"
//	framing = "lines"
//	call_timeout = "30s"
//	heartbeat = "0s"
//	rate_limit = 0     # calls per second, 0 for no limit
//	rate_burst = 10
//	allow_origins = []
//	log_level = "info"
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/relay/wire"
)

// Config are the settings for a broker process.
type Config struct {
	PeerAddr     string        // address the peer dials
	HTTPAddr     string        // address callers use
	Framing      wire.Framing  // framing of envelopes on the peer stream
	MaxFrameSize int           // largest accepted frame, in bytes
	CallTimeout  time.Duration // default timeout for calls
	Heartbeat    time.Duration // interval between peer pings, 0 to disable
	RateLimit    float64       // caller calls per second, 0 for no limit
	RateBurst    int           // caller burst size
	KeepEvents   int           // recent events retained for status
	AllowOrigins []string      // origins allowed to open the event stream
	LogLevel     string
	LogJSON      bool
}

// Default returns the default settings.
func Default() Config {
	return Config{
		PeerAddr:     "127.0.0.1:54321",
		HTTPAddr:     "127.0.0.1:8085",
		Framing:      wire.Lines,
		MaxFrameSize: wire.DefaultMaxFrameSize,
		CallTimeout:  30 * time.Second,
		RateBurst:    10,
		KeepEvents:   64,
		LogLevel:     "info",
	}
}

type fileConfig struct {
	PeerAddr     string   `toml:"peer_addr"`
	HTTPAddr     string   `toml:"http_addr"`
	Framing      string   `toml:"framing"`
	MaxFrameSize int      `toml:"max_frame_size"`
	CallTimeout  string   `toml:"call_timeout"`
	Heartbeat    string   `toml:"heartbeat"`
	RateLimit    float64  `toml:"rate_limit"`
	RateBurst    int      `toml:"rate_burst"`
	KeepEvents   int      `toml:"keep_events"`
	AllowOrigins []string `toml:"allow_origins"`
	LogLevel     string   `toml:"log_level"`
	LogJSON      bool     `toml:"log_json"`
}

// Load reads settings from the TOML file at path, over the defaults.
// If path == "", Load returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.apply(meta, &raw); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse parses settings from TOML text, over the defaults.
func Parse(text string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.apply(meta, &raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(meta toml.MetaData, raw *fileConfig) error {
	if keys := meta.Undecoded(); len(keys) != 0 {
		return fmt.Errorf("unknown setting %q", keys[0].String())
	}
	if meta.IsDefined("peer_addr") {
		c.PeerAddr = strings.TrimSpace(raw.PeerAddr)
	}
	if meta.IsDefined("http_addr") {
		c.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("framing") {
		f, err := wire.ParseFraming(strings.TrimSpace(raw.Framing))
		if err != nil {
			return err
		}
		c.Framing = f
	}
	if meta.IsDefined("max_frame_size") {
		if raw.MaxFrameSize <= 0 {
			return fmt.Errorf("invalid max_frame_size %d", raw.MaxFrameSize)
		}
		c.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("call_timeout") {
		d, err := parseDuration("call_timeout", raw.CallTimeout)
		if err != nil {
			return err
		}
		c.CallTimeout = d
	}
	if meta.IsDefined("heartbeat") {
		d, err := parseDuration("heartbeat", raw.Heartbeat)
		if err != nil {
			return err
		}
		c.Heartbeat = d
	}
	if meta.IsDefined("rate_limit") {
		if raw.RateLimit < 0 {
			return fmt.Errorf("invalid rate_limit %v", raw.RateLimit)
		}
		c.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		c.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("keep_events") {
		c.KeepEvents = raw.KeepEvents
	}
	if meta.IsDefined("allow_origins") {
		c.AllowOrigins = raw.AllowOrigins
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_json") {
		c.LogJSON = raw.LogJSON
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	} else if d < 0 {
		return 0, fmt.Errorf("invalid %s %v", key, d)
	}
	return d, nil
}
