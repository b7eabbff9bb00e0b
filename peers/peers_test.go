// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peers_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/agent"
	"github.com/creachadair/relay/channel"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/peers"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/goccy/go-json"
)

type fakeListener struct {
	net.Listener // stub for unused methods
	conns        chan net.Conn
	closed       chan struct{}
}

func (f fakeListener) push(c net.Conn) { f.conns <- c }

func (f fakeListener) Accept() (net.Conn, error) {
	select {
	case <-f.closed:
		return nil, net.ErrClosed
	case c := <-f.conns:
		return c, nil
	}
}

func (f fakeListener) Close() error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
		close(f.closed)
		return nil
	}
}

func newFakeListener() fakeListener {
	return fakeListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// fakeConn is a fake implementation of [net.Conn] that does not work but which
// satisfies the interface, for use in testing. Only the Close and RemoteAddr
// methods can be called without panicking.
type fakeConn struct{ net.Conn }

func (fakeConn) Close() error         { return nil }
func (fakeConn) RemoteAddr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

func TestAccepter(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			lst := newFakeListener()
			acc := peers.NetAccepter(lst, nil)

			time.AfterFunc(1*time.Second, func() { lst.push(fakeConn{}) })
			c, err := acc.Accept(t.Context())
			if err != nil {
				t.Fatalf("Accept: unexpected error: %v", err)
			}
			if ioc, ok := c.(*channel.IOChannel); !ok {
				t.Errorf("Accept: got %[1]T %[1]v, want %T", c, ioc)
			} else if got := ioc.RemoteAddr().String(); got != "fake" {
				t.Errorf("RemoteAddr: got %q, want fake", got)
			}

			// The listener should not be closed.
			if err := lst.Close(); err != nil {
				t.Errorf("Close listener: unexpected error: %v", err)
			}
		})
	})

	t.Run("Cancel", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			lst := newFakeListener()
			acc := peers.NetAccepter(lst, nil)
			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			ch, err := acc.Accept(ctx)
			if err == nil {
				t.Errorf("Accept: got %v, want error", ch)
			}

			// The listener should already be closed, so this should report that error.
			if err := lst.Close(); !errors.Is(err, net.ErrClosed) {
				t.Errorf("Close listener: got %v, want %v", err, net.ErrClosed)
			}
		})
	})
}

func TestChannelAccepter(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		acc := make(peers.ChannelAccepter, 1)
		a, _ := channel.Direct()
		acc <- a
		if got, err := acc.Accept(t.Context()); err != nil || got != a {
			t.Errorf("Accept: got (%v, %v), want (%v, nil)", got, err, a)
		}

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()
		if _, err := acc.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Accept: got %v, want %v", err, context.DeadlineExceeded)
		}

		close(acc)
		if _, err := acc.Accept(t.Context()); !errors.Is(err, net.ErrClosed) {
			t.Errorf("Accept: got %v, want %v", err, net.ErrClosed)
		}
	})
}

func TestLocal(t *testing.T) {
	defer leaktest.Check(t)()

	st := agent.NewStudio("Local", "/tmp/local.lrcat", agent.Photo{ID: 1, Filename: "x.jpg"})
	loc := peers.NewLocal(st.Register(dispatch.New()), nil)
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	ctx := context.Background()
	rsp, err := loc.Broker.Call(ctx, agent.MethodStudioInfo, nil, time.Second)
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	var info agent.StudioInfo
	if err := json.Unmarshal(rsp, &info); err != nil {
		t.Fatalf("Decode result: %v", err)
	}
	if info.CatalogName != "Local" {
		t.Errorf("Catalog name: got %q, want Local", info.CatalogName)
	}

	loc.Disconnect()
	if _, err := loc.Broker.Call(ctx, agent.MethodStudioInfo, nil, time.Second); !errors.Is(err, relay.ErrNotConnected) {
		t.Errorf("Call after disconnect: got %v, want %v", err, relay.ErrNotConnected)
	}

	loc.Connect()
	if _, err := loc.Broker.Call(ctx, agent.MethodStudioInfo, nil, time.Second); err != nil {
		t.Errorf("Call after reconnect: unexpected error: %v", err)
	}
}

func TestNetwork(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := peers.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := lst.Addr().String()
	t.Logf("Listening at %q", addr)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	b := relay.New(nil)
	srv := taskgroup.Go(func() error { return b.Serve(ctx, peers.NetAccepter(lst, nil)) })

	events, unsub := b.Subscribe(8)
	defer unsub()

	st := agent.NewStudio("Net", "/tmp/net.lrcat", agent.Photo{ID: 1, Filename: "y.jpg"})
	st.Select(1)
	a := agent.New(st.Register(dispatch.New()), nil)
	peer := taskgroup.Go(func() error { return a.Run(ctx, agent.NetDialer(addr, nil)) })

	for ev := range events {
		if ev.Kind == relay.EventPeerConnected {
			t.Logf("Peer connected from %s", ev.Peer)
			break
		}
	}

	const numCalls = 10
	g := taskgroup.New(nil)
	for i := range numCalls {
		g.Go(func() error {
			_, err := b.Call(ctx, agent.MethodSetMetadata, map[string]int{"rating": i % 6}, 5*time.Second)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Errorf("Calls: unexpected error: %v", err)
	}

	cancel()
	if err := peer.Wait(); err != nil {
		t.Errorf("Agent: unexpected error: %v", err)
	}
	if err := srv.Wait(); err != nil {
		t.Errorf("Broker: unexpected error: %v", err)
	}
	if st := b.Stats(); st.Succeeded != numCalls {
		t.Errorf("Stats: got %d calls succeeded, want %d", st.Succeeded, numCalls)
	}
}
