// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for accepting and testing peers.
package peers

import (
	"context"
	"net"
	"time"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/channel"
	"github.com/creachadair/taskgroup"
)

// KeepAlivePeriod is the TCP keepalive period set on accepted connections.
// Keepalives let the broker notice a peer that vanished without closing its
// connection.
const KeepAlivePeriod = 15 * time.Second

// NetAccepter adapts a net.Listener to the relay.Accepter interface. Accepted
// connections use the given channel options. When the context passed to
// Accept ends, the listener is closed.
func NetAccepter(lst net.Listener, opts *channel.IOOptions) relay.Accepter {
	return netAccepter{Listener: lst, opts: opts}
}

type netAccepter struct {
	net.Listener
	opts *channel.IOOptions
}

func (n netAccepter) Accept(ctx context.Context) (relay.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(KeepAlivePeriod)
	}
	return channel.Conn(conn, n.opts), nil
}

// Listen listens for peer connections at addr, whose network type is chosen
// by relay.SplitAddress. The caller is responsible for closing the listener.
func Listen(addr string) (net.Listener, error) {
	return net.Listen(relay.SplitAddress(addr))
}

// ChannelAccepter is a relay.Accepter that yields the channels sent to it.
// Closing the channel causes Accept to report net.ErrClosed.
type ChannelAccepter chan relay.Channel

// Accept implements the relay.Accepter interface.
func (c ChannelAccepter) Accept(ctx context.Context) (relay.Channel, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ch, ok := <-c:
		if !ok {
			return nil, net.ErrClosed
		}
		return ch, nil
	}
}
