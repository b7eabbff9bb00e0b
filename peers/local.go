// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peers

import (
	"context"
	"errors"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/agent"
	"github.com/creachadair/relay/channel"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/taskgroup"
)

// Local is a broker and an agent connected in memory, suitable for testing.
type Local struct {
	Broker *relay.Broker
	Agent  *agent.Agent

	acc    ChannelAccepter
	cancel context.CancelFunc
	tasks  *taskgroup.Group
	done   *taskgroup.Single[error]
	peer   relay.Channel // the agent end of the current connection
}

// NewLocal creates a broker with the given options and an agent servicing
// requests with tab, and connects them via a direct channel. NewLocal blocks
// until the broker reports the agent as connected.
func NewLocal(tab *dispatch.Table, opts *relay.Options) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	b := relay.New(opts)
	loc := &Local{
		Broker: b,
		Agent:  agent.New(tab, nil),
		acc:    make(ChannelAccepter),
		cancel: cancel,
		tasks:  taskgroup.New(nil),
	}
	loc.done = taskgroup.Go(func() error { return b.Serve(ctx, loc.acc) })
	loc.Connect()
	return loc
}

// Connect attaches a new agent connection to the broker, and blocks until the
// broker reports it connected. The previous connection, if any, must have
// been closed with Disconnect.
func (l *Local) Connect() {
	events, unsub := l.Broker.Subscribe(256)
	defer unsub()

	bside, aside := channel.Direct()
	l.peer = aside
	l.tasks.Go(func() error { return l.Agent.Serve(context.Background(), aside) })
	l.acc <- bside
	await(events, relay.EventPeerConnected)
}

// Disconnect closes the agent connection, and blocks until the broker reports
// it disconnected.
func (l *Local) Disconnect() {
	events, unsub := l.Broker.Subscribe(256)
	defer unsub()

	l.peer.Close()
	await(events, relay.EventPeerDisconnected)
}

func await(events <-chan relay.Event, kind relay.EventKind) {
	for ev := range events {
		if ev.Kind == kind {
			return
		}
	}
}

// Stop shuts down the broker and the agent, and blocks until both have
// exited. It reports the error from the broker, if any.
func (l *Local) Stop() error {
	l.Broker.Close()
	l.cancel()
	if l.peer != nil {
		l.peer.Close()
	}
	aerr := l.tasks.Wait()
	berr := l.done.Wait()
	return errors.Join(berr, aerr)
}
