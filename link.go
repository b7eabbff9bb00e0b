// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/relay/wire"
	"github.com/rs/zerolog"
)

// A Channel is a reliable ordered stream of messages shared with the peer.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the message to the receiver.
	Send(*wire.Message) error

	// Recv receives the next available message from the channel. An error of
	// concrete type *wire.ParseError reports a malformed frame that was
	// discarded; the channel remains usable. Any other error is fatal.
	Recv() (*wire.Message, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// An Accepter yields channels for inbound peer connections.
type Accepter interface {
	// Accept blocks until a peer connects or ctx ends.
	Accept(context.Context) (Channel, error)
}

// A FrameLogger logs a message exchanged with the peer.
type FrameLogger func(FrameInfo)

// A FrameInfo combines a message and a flag indicating whether the message
// was sent or received.
type FrameInfo struct {
	*wire.Message      // the message being logged
	Sent          bool // whether the message was sent (true) or received (false)
}

func (f FrameInfo) String() string {
	if f.Sent {
		return fmt.Sprintf("send %v", f.Message)
	}
	return fmt.Sprintf("recv %v", f.Message)
}

// linkHandler receives notifications from a link.
type linkHandler interface {
	// attached is called when a new session becomes active.
	attached(*session)

	// frame is called for each message received on the active session.
	frame(*session, *wire.Message)

	// badFrame is called for each malformed frame on the active session.
	badFrame(*session, *wire.ParseError)

	// lost is called with the link lock held when the active session is torn
	// down. No new call can be registered while it runs.
	lost(*session, error)
}

// A session is one accepted peer connection.
type session struct {
	ch     Channel
	addr   string
	since  time.Time
	ctx    context.Context // ends when the session is torn down
	cancel context.CancelFunc
	done   chan struct{} // closed when the session is torn down

	out sync.Mutex // held while sending
}

// A link is the peer connection manager. It accepts peer connections one at a
// time, and owns the identifier counter and the connected state.
//
// A link never has more than one active session. While a session is active
// no further connection is accepted, so additional dial attempts wait in the
// listener backlog until the active session is confirmed dead.
type link struct {
	h    linkHandler
	log  zerolog.Logger
	flog FrameLogger

	μ      sync.Mutex
	cur    *session // the active session, or nil
	nextID uint64   // last identifier assigned
	closed bool
}

// serve accepts and services peer connections from acc until ctx ends, acc
// reports an error, or the link is closed. Only one session is serviced at a
// time. Once serve returns, the link is closed.
func (l *link) serve(ctx context.Context, acc Accepter) error {
	stop := context.AfterFunc(ctx, func() { l.close(ctx.Err()) })
	defer stop()
	defer l.close(net.ErrClosed)

	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || l.isClosed() {
				return nil
			}
			return fmt.Errorf("accept peer: %w", err)
		}
		s := l.attach(ctx, ch)
		if s == nil {
			return nil // the link closed while accepting
		}
		l.run(s)
	}
}

// attach makes ch the active session. It returns nil if the link is closed.
func (l *link) attach(ctx context.Context, ch Channel) *session {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		ch:     ch,
		addr:   remoteAddr(ch),
		since:  time.Now(),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	l.μ.Lock()
	if l.closed {
		l.μ.Unlock()
		cancel()
		ch.Close()
		return nil
	} else if l.cur != nil {
		// Unreachable while sessions are serviced one at a time.
		panic("link already has an active session")
	}
	l.cur = s
	l.μ.Unlock()

	brokerMetrics.connects.Add(1)
	brokerMetrics.connected.Set(1)
	l.log.Info().Str("peer", s.addr).Msg("peer connected")
	l.h.attached(s)
	return s
}

// run receives messages from s until it fails, then tears it down.
func (l *link) run(s *session) {
	for {
		msg, err := s.ch.Recv()
		if err != nil {
			var pe *wire.ParseError
			if errors.As(err, &pe) {
				brokerMetrics.parseErrors.Add(1)
				l.log.Warn().Err(pe.Err).Bytes("frame", pe.Raw).Msg("discarded malformed frame")
				l.h.badFrame(s, pe)
				continue
			}
			l.detach(s, err)
			return
		}
		brokerMetrics.framesRecv.Add(1)
		if l.flog != nil {
			l.flog(FrameInfo{Message: msg, Sent: false})
		}
		l.h.frame(s, msg)
	}
}

// detach tears down s if it is the active session. Teardown and the
// registration of new calls are mutually exclusive.
func (l *link) detach(s *session, err error) {
	l.μ.Lock()
	active := l.cur == s
	if active {
		l.cur = nil
		close(s.done)
		l.h.lost(s, err)
	}
	l.μ.Unlock()
	s.cancel()
	s.ch.Close()

	if !active {
		return
	}
	brokerMetrics.disconnects.Add(1)
	brokerMetrics.connected.Set(0)
	ev := l.log.Info()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		ev = l.log.Warn().Err(err)
	}
	ev.Str("peer", s.addr).Dur("connected", time.Since(s.since)).Msg("peer disconnected")
}

// drop closes the channel of s, which causes its receive loop to fail and
// tear the session down.
func (l *link) drop(s *session, why error) {
	l.log.Debug().Err(why).Str("peer", s.addr).Msg("dropping peer connection")
	s.ch.Close()
}

// reserve allocates a fresh identifier on the active session and calls
// register with it while holding the link lock, so that registration cannot
// race with teardown. It reports ErrNotConnected if no session is active.
// If want != nil and is no longer the active session, it reports
// ErrDisconnected.
func (l *link) reserve(want *session, register func(id uint64)) (*session, uint64, error) {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.closed {
		return nil, 0, ErrClosed
	} else if want != nil && l.cur != want {
		return nil, 0, ErrDisconnected
	} else if l.cur == nil {
		return nil, 0, ErrNotConnected
	}
	l.nextID++
	id := l.nextID
	register(id)
	return l.cur, id, nil
}

// send sends msg on s. If the send fails, s is dropped.
func (l *link) send(s *session, msg *wire.Message) error {
	s.out.Lock()
	defer s.out.Unlock()
	brokerMetrics.framesSent.Add(1)
	if l.flog != nil {
		l.flog(FrameInfo{Message: msg, Sent: true})
	}
	if err := s.ch.Send(msg); err != nil {
		l.drop(s, err)
		return err
	}
	return nil
}

// active returns the active session, or nil.
func (l *link) active() *session {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.cur
}

func (l *link) isClosed() bool {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.closed
}

// close closes the link and drops the active session, if any.
func (l *link) close(why error) {
	l.μ.Lock()
	l.closed = true
	s := l.cur
	l.μ.Unlock()
	if s != nil {
		l.drop(s, why)
	}
}

func remoteAddr(ch Channel) string {
	if ra, ok := ch.(interface{ RemoteAddr() net.Addr }); ok {
		if addr := ra.RemoteAddr(); addr != nil {
			return addr.String()
		}
	}
	return "local"
}
