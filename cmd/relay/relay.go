// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program relay runs and talks to a relay broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/relay"
	"github.com/creachadair/relay/client"
	"github.com/creachadair/relay/internal/config"
	"github.com/creachadair/relay/internal/logging"
	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var rootFlags struct {
	Config   string `flag:"config,Configuration file (TOML)"`
	LogLevel string `flag:"log-level,Log level (overrides config and environment)"`
	LogJSON  bool   `flag:"log-json,Write logs as JSON"`
}

var serveFlags struct {
	PeerAddr  string        `flag:"peer,Address to listen on for the peer (overrides config)"`
	HTTPAddr  string        `flag:"http,Address to listen on for callers (overrides config)"`
	Framing   string        `flag:"framing,Peer framing: lines or length (overrides config)"`
	Timeout   time.Duration `flag:"timeout,Default call timeout (overrides config)"`
	Heartbeat string        `flag:"heartbeat,Peer heartbeat interval, 0 to disable (overrides config)"`
	Trace     bool          `flag:"trace,Log every frame exchanged with the peer"`
}

var callFlags struct {
	URL     string        `flag:"url,Broker URL (default from config)"`
	Timeout time.Duration `flag:"timeout,Call timeout (default from broker)"`
}

var probeFlags struct {
	URL      string        `flag:"url,Broker URL (default from config)"`
	Launch   bool          `flag:"launch,Start a broker if none is reachable"`
	Attempts int           `flag:"attempts,default=10,Number of probes after launching"`
	Interval time.Duration `flag:"interval,default=500ms,Interval between probes"`
}

var peerFlags struct {
	Addr    string `flag:"addr,Broker peer address (default from config)"`
	Catalog string `flag:"catalog,default=Demo,Name of the demo catalog"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Run and talk to a relay broker.",
		SetFlags: command.Flags(flax.MustBind, &rootFlags),
		Commands: []*command.C{
			{
				Name: "serve",
				Help: `Run a broker.

The broker accepts one peer connection at a time on the peer address, and
forwards calls from HTTP callers on the HTTP address to that peer.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "call",
				Usage: "<method> [params-json]",
				Help: `Call a method on the peer through a running broker.

The result is printed to stdout as JSON. If the peer reports an error, it is
printed along with its code.`,
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name: "probe",
				Help: `Check whether a broker is reachable.

With --launch, start a broker in the background if none is reachable, and wait
for it to answer.`,
				SetFlags: command.Flags(flax.MustBind, &probeFlags),
				Run:      runProbe,
			},
			{
				Name:     "status",
				Help:     "Print the statistics of a running broker.",
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runStatus,
			},
			{
				Name: "peer",
				Help: `Run a demonstration peer.

The peer dials the broker, serves an in-memory photo catalog, and reconnects
if the broker goes away.`,
				SetFlags: command.Flags(flax.MustBind, &peerFlags),
				Run:      runPeer,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig reads the configuration file, if any, and applies the logging
// overrides from the environment and the command line.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(rootFlags.Config)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	lc := logging.DefaultConfig()
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	}
	lc.JSON = cfg.LogJSON
	lc.ApplyEnv()
	if rootFlags.LogLevel != "" {
		lvl, ok := logging.ParseLevel(rootFlags.LogLevel)
		if !ok {
			return cfg, zerolog.Nop(), fmt.Errorf("unknown log level %q", rootFlags.LogLevel)
		}
		lc.Level = lvl
	}
	if rootFlags.LogJSON {
		lc.JSON = true
	}
	return cfg, logging.New(os.Stderr, "relay", lc), nil
}

// signalContext returns a context that ends when the process is interrupted.
func signalContext(env *command.Env) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
}

func brokerURL(cfg config.Config, flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	return "http://" + cfg.HTTPAddr
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 || len(env.Args) > 2 {
		return env.Usagef("Wrong number of arguments")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	var params any
	if len(env.Args) == 2 {
		raw := json.RawMessage(env.Args[1])
		if !json.Valid(raw) {
			return fmt.Errorf("params are not valid JSON: %q", env.Args[1])
		}
		params = raw
	}

	ctx, cancel := signalContext(env)
	defer cancel()
	c := client.New(brokerURL(cfg, callFlags.URL), &client.Options{Logger: &log})
	result, err := c.Call(ctx, env.Args[0], params, callFlags.Timeout)
	if err != nil {
		var pe *relay.PeerError
		if errors.As(err, &pe) && len(pe.Data) != 0 {
			fmt.Fprintf(os.Stderr, "data: %s\n", pe.Data)
		}
		return err
	}
	fmt.Println(string(result))
	return nil
}

func runProbe(env *command.Env) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(env)
	defer cancel()

	c := client.New(brokerURL(cfg, probeFlags.URL), &client.Options{Logger: &log})
	if !probeFlags.Launch {
		if !c.IsReachable(ctx) {
			return client.ErrUnreachable
		}
		fmt.Println("reachable")
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate program: %w", err)
	}
	args := []string{"serve"}
	if rootFlags.Config != "" {
		args = append([]string{"--config", rootFlags.Config}, args...)
	}
	launch := client.ExecLauncher{Path: self, Args: args}
	if err := c.Ensure(ctx, launch, probeFlags.Attempts, probeFlags.Interval); err != nil {
		return err
	}
	fmt.Println("reachable")
	return nil
}

func runStatus(env *command.Env) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(env)
	defer cancel()

	st, err := client.New(brokerURL(cfg, callFlags.URL), &client.Options{Logger: &log}).Status(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// overrideString sets *dst to val if val is not empty.
func overrideString(dst *string, val string) {
	if v := strings.TrimSpace(val); v != "" {
		*dst = v
	}
}

// applyServeFlags applies the serve flags to cfg.
func applyServeFlags(cfg *config.Config) error {
	overrideString(&cfg.PeerAddr, serveFlags.PeerAddr)
	overrideString(&cfg.HTTPAddr, serveFlags.HTTPAddr)
	if serveFlags.Framing != "" {
		f, err := wire.ParseFraming(serveFlags.Framing)
		if err != nil {
			return err
		}
		cfg.Framing = f
	}
	if serveFlags.Timeout > 0 {
		cfg.CallTimeout = serveFlags.Timeout
	}
	if serveFlags.Heartbeat != "" {
		d, err := time.ParseDuration(serveFlags.Heartbeat)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid heartbeat %q", serveFlags.Heartbeat)
		}
		cfg.Heartbeat = d
	}
	return nil
}
