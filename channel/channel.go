// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the relay.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/wire"
)

// Direct constructs a connected pair of in-memory channels that pass messages
// directly without encoding them. Messages sent to A are received by B and
// vice versa. Closing either channel closes both.
func Direct() (A, B relay.Channel) {
	a2b := make(chan *wire.Message)
	b2a := make(chan *wire.Message)
	done := make(chan struct{})
	once := new(sync.Once)
	A = direct{out: a2b, in: b2a, done: done, once: once}
	B = direct{out: b2a, in: a2b, done: done, once: once}
	return
}

type direct struct {
	out  chan<- *wire.Message
	in   <-chan *wire.Message
	done chan struct{}
	once *sync.Once
}

// Send implements a method of the [relay.Channel] interface.
func (d direct) Send(msg *wire.Message) error {
	select {
	case <-d.done:
		return net.ErrClosed
	default:
	}
	select {
	case <-d.done:
		return net.ErrClosed
	case d.out <- msg:
		return nil
	}
}

// Recv implements a method of the [relay.Channel] interface.
func (d direct) Recv() (*wire.Message, error) {
	select {
	case <-d.done:
		return nil, net.ErrClosed
	case msg := <-d.in:
		return msg, nil
	}
}

// Close implements a method of the [relay.Channel] interface.
func (d direct) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

// IOOptions are settings for an IOChannel. A nil *IOOptions is ready for use
// and provides default values as described.
type IOOptions struct {
	// Framing selects how envelopes are delimited on the stream.
	// The default is wire.Lines.
	Framing wire.Framing

	// MaxFrameSize is the largest frame accepted, in bytes. If zero,
	// wire.DefaultMaxFrameSize is used.
	MaxFrameSize int
}

func (o *IOOptions) framing() wire.Framing {
	if o == nil {
		return wire.Lines
	}
	return o.Framing
}

func (o *IOOptions) maxFrameSize() int {
	if o == nil || o.MaxFrameSize <= 0 {
		return wire.DefaultMaxFrameSize
	}
	return o.MaxFrameSize
}

// IO constructs a channel that receives from r and sends to wc. Closing the
// channel closes wc, and also r if it implements io.Closer.
func IO(r io.Reader, wc io.WriteCloser, opts *IOOptions) *IOChannel {
	f := opts.framing()
	return &IOChannel{
		r: wire.NewReader(r, f, opts.maxFrameSize()),
		w: bufio.NewWriter(wc),
		f: f,
		close: func() error {
			err := wc.Close()
			if rc, ok := r.(io.Closer); ok && rc != io.Closer(wc) {
				rc.Close()
			}
			return err
		},
	}
}

// Conn constructs a channel that sends and receives on conn.
func Conn(conn net.Conn, opts *IOOptions) *IOChannel {
	ch := IO(conn, conn, opts)
	ch.addr = conn.RemoteAddr()
	return ch
}

// An IOChannel sends and receives framed messages on a byte stream.
type IOChannel struct {
	r    *wire.Reader
	w    *bufio.Writer
	f    wire.Framing
	addr net.Addr

	once  sync.Once
	cerr  error
	close func() error
}

// Send implements a method of the [relay.Channel] interface.
func (c *IOChannel) Send(msg *wire.Message) error {
	if err := wire.WriteMessage(c.w, c.f, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [relay.Channel] interface.
// An error of concrete type *wire.ParseError reports a discarded frame.
func (c *IOChannel) Recv() (*wire.Message, error) { return c.r.ReadMessage() }

// Close implements a method of the [relay.Channel] interface.
// It is safe to call Close more than once.
func (c *IOChannel) Close() error {
	c.once.Do(func() { c.cerr = c.close() })
	return c.cerr
}

// RemoteAddr reports the address of the remote end of the channel, or nil if
// it is not known.
func (c *IOChannel) RemoteAddr() net.Addr { return c.addr }
