// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/relay/internal/config"
	"github.com/creachadair/relay/wire"
	"github.com/google/go-cmp/cmp"
)

func TestLoadDefault(t *testing.T) {
	got, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if diff := cmp.Diff(config.Default(), got); diff != "" {
		t.Errorf("Config (-want, +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(`
peer_addr = "/tmp/relay.sock"
framing = "length"
call_timeout = "5s"
heartbeat = "1m"
rate_limit = 2.5
allow_origins = ["http://localhost:3000"]
`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	want := config.Default()
	want.PeerAddr = "/tmp/relay.sock"
	want.Framing = wire.LengthPrefix
	want.CallTimeout = 5 * time.Second
	want.Heartbeat = time.Minute
	want.RateLimit = 2.5
	want.AllowOrigins = []string{"http://localhost:3000"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Config (-want, +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		`call_timeout = "soon"`,
		`heartbeat = "-1s"`,
		`framing = "smoke signals"`,
		`max_frame_size = 0`,
		`rate_limit = -1.0`,
		`unknown_key = true`,
		`peer_addr = `,
	}
	for _, input := range tests {
		if cfg, err := config.Parse(input); err == nil {
			t.Errorf("Parse(%q): got %+v, want error", input, cfg)
		} else {
			t.Logf("Parse(%q): got expected error: %v", input, err)
		}
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load of a missing file did not report an error")
	}
}
