// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package agent implements the peer side of a relay: a long-running process
// that dials the broker, services the requests the broker forwards to it, and
// reconnects when the connection drops.
//
// Requests are serviced by a [dispatch.Table]. The agent answers the broker
// heartbeat method ([relay.PingMethod]) itself.
//
//	tab := dispatch.New().Handle("get_selection", getSelection)
//	a := agent.New(tab, nil)
//	err := a.Run(ctx, agent.NetDialer("127.0.0.1:54321", nil))
package agent

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/channel"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/wire"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Dialer opens a new channel to the broker.
type Dialer func(context.Context) (relay.Channel, error)

// NetDialer returns a Dialer that connects to the broker at addr. The network
// type is chosen by relay.SplitAddress.
func NetDialer(addr string, opts *channel.IOOptions) Dialer {
	network, address := relay.SplitAddress(addr)
	return func(ctx context.Context) (relay.Channel, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return channel.Conn(conn, opts), nil
	}
}

// Options are settings for an Agent. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	// LogFrames, if non-nil, is called for each message sent or received.
	LogFrames relay.FrameLogger

	// Backoff controls the delay between connection attempts.
	// If nil, DefaultBackoff is used.
	Backoff *Backoff
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o *Options) logFrames() relay.FrameLogger {
	if o == nil {
		return nil
	}
	return o.LogFrames
}

func (o *Options) backoff() Backoff {
	if o == nil || o.Backoff == nil {
		return DefaultBackoff
	}
	return *o.Backoff
}

// An Agent services requests from a broker using a dispatch table.
type Agent struct {
	tab     *dispatch.Table
	log     zerolog.Logger
	flog    relay.FrameLogger
	backoff Backoff

	connected atomic.Bool
	served    atomic.Int64 // requests serviced
}

// New constructs an Agent that services requests with tab. If tab == nil,
// the agent answers only the heartbeat method.
func New(tab *dispatch.Table, opts *Options) *Agent {
	if tab == nil {
		tab = dispatch.New()
	}
	return &Agent{
		tab:     tab.Freeze(),
		log:     opts.logger(),
		flog:    opts.logFrames(),
		backoff: opts.backoff(),
	}
}

// Connected reports whether a is currently serving a connection.
func (a *Agent) Connected() bool { return a.connected.Load() }

// Served reports the number of requests a has serviced.
func (a *Agent) Served() int64 { return a.served.Load() }

// Run dials the broker and serves requests until ctx ends. When the
// connection fails or closes, Run dials again after a delay chosen by the
// backoff settings. Run returns nil when ctx ends.
func (a *Agent) Run(ctx context.Context, dial Dialer) error {
	attempt := 0
	for {
		ch, err := dial(ctx)
		if err == nil {
			attempt = 0
			a.log.Info().Msg("connected to broker")
			err = a.Serve(ctx, ch)
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := a.backoff.Delay(attempt)
		if err != nil {
			a.log.Warn().Err(err).Int("attempt", attempt).Dur("retry", delay).Msg("broker unavailable")
		} else {
			a.log.Info().Dur("retry", delay).Msg("broker closed the connection")
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Serve services requests received on ch until ch closes or fails, or ctx
// ends. Serve closes ch before returning. It returns nil if ch was closed
// cleanly, otherwise the error that ended service.
func (a *Agent) Serve(ctx context.Context, ch relay.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	a.connected.Store(true)
	defer a.connected.Store(false)

	var out sync.Mutex
	send := func(msg *wire.Message) {
		out.Lock()
		defer out.Unlock()
		if a.flog != nil {
			a.flog(relay.FrameInfo{Message: msg, Sent: true})
		}
		if err := ch.Send(msg); err != nil {
			a.log.Warn().Err(err).Uint64("id", msg.ID).Msg("send response failed")
			ch.Close()
		}
	}

	g := taskgroup.New(nil)
	defer g.Wait()
	for {
		msg, err := ch.Recv()
		if err != nil {
			var pe *wire.ParseError
			if errors.As(err, &pe) {
				a.log.Warn().Err(pe.Err).Bytes("frame", pe.Raw).Msg("discarded malformed frame")
				if pe.HasID {
					send(wire.NewError(pe.ID, wire.Errorf(wire.CodeParseError, "%v", pe.Err)))
				}
				continue
			}
			cancel()
			ch.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if a.flog != nil {
			a.flog(relay.FrameInfo{Message: msg, Sent: false})
		}
		if msg.Kind() != wire.KindRequest {
			a.log.Debug().Uint64("id", msg.ID).Msg("ignored non-request message")
			continue
		}
		g.Go(func() error {
			if rsp := a.dispatch(ctx, msg); rsp != nil {
				send(rsp)
			}
			return nil
		})
	}
}

func (a *Agent) dispatch(ctx context.Context, req *wire.Message) *wire.Message {
	defer a.served.Add(1)
	if req.Method == relay.PingMethod {
		if req.NullID {
			return nil
		}
		return req.Reply([]byte(`"pong"`), nil)
	}
	start := time.Now()
	rsp := a.tab.Dispatch(ctx, req)
	ev := a.log.Debug()
	if rsp != nil && rsp.Error != nil {
		ev = a.log.Warn().Int("code", int(rsp.Error.Code)).Str("error", rsp.Error.Message)
	}
	ev.Str("method", req.Method).Uint64("id", req.ID).Dur("elapsed", time.Since(start)).Msg("request complete")
	return rsp
}
