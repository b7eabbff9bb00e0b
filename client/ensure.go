// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// A Launcher starts a broker process.
type Launcher interface {
	Launch(context.Context) error
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(context.Context) error

// Launch implements the Launcher interface.
func (f LaunchFunc) Launch(ctx context.Context) error { return f(ctx) }

// ExecLauncher is a Launcher that starts a program in the background. The
// process outlives the launch; it is not stopped when ctx ends.
type ExecLauncher struct {
	Path string   // program to run
	Args []string // arguments, not including the program name
	Env  []string // additional environment, "NAME=value"

	// If set, the standard error of the process is written here.
	// Otherwise it is discarded.
	Stderr *os.File
}

// Launch implements the Launcher interface.
func (e ExecLauncher) Launch(ctx context.Context) error {
	cmd := exec.Command(e.Path, e.Args...)
	cmd.Env = append(os.Environ(), e.Env...)
	if e.Stderr != nil {
		cmd.Stderr = e.Stderr
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %q: %w", e.Path, err)
	}
	go cmd.Wait() // reap the process when it exits
	return nil
}

// Ensure makes sure the broker is reachable. If it is not, Ensure calls
// launch to start it, then probes up to attempts times at the given interval
// until it answers. Ensure reports an error wrapping ErrUnreachable if the
// broker does not answer in time. If launch == nil, Ensure only waits.
func (c *Client) Ensure(ctx context.Context, launch Launcher, attempts int, interval time.Duration) error {
	if c.IsReachable(ctx) {
		return nil
	}
	if launch != nil {
		c.log.Info().Str("url", c.base).Msg("broker not reachable; launching")
		if err := launch.Launch(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for i := range attempts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if c.IsReachable(ctx) {
			c.log.Info().Int("attempt", i+1).Msg("broker is reachable")
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrUnreachable, attempts)
}
