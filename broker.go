// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/wire"
	"github.com/creachadair/taskgroup"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PingMethod is the method name the broker calls to check that a connected
// peer is still responsive. See [Options.Heartbeat].
const PingMethod = "rpc.ping"

// DefaultTimeout is the call timeout used when neither the caller nor the
// broker options specify one.
const DefaultTimeout = 30 * time.Second

// Options are settings for a Broker. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	// DefaultTimeout is the timeout applied to a call that does not specify
	// one. If zero, DefaultTimeout is used.
	DefaultTimeout time.Duration

	// Handlers, if non-nil, services requests sent by the peer to the broker.
	// If nil, every such request is answered with a method-not-found error.
	Handlers *dispatch.Table

	// LogFrames, if non-nil, is called for each message sent to or received
	// from the peer.
	LogFrames FrameLogger

	// Heartbeat, if positive, is the interval at which the broker calls
	// PingMethod on a connected peer. Any reply, including an error, shows the
	// peer is alive. If a ping times out, the session is dropped and its
	// pending calls fail with ErrDisconnected.
	Heartbeat time.Duration

	// KeepEvents is the number of recent events retained for Stats.
	// If zero, 64 events are retained; if negative, none.
	KeepEvents int
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o *Options) defaultTimeout() time.Duration {
	if o == nil || o.DefaultTimeout <= 0 {
		return DefaultTimeout
	}
	return o.DefaultTimeout
}

func (o *Options) handlers() *dispatch.Table {
	if o == nil {
		return nil
	}
	return o.Handlers
}

func (o *Options) logFrames() FrameLogger {
	if o == nil {
		return nil
	}
	return o.LogFrames
}

func (o *Options) heartbeat() time.Duration {
	if o == nil || o.Heartbeat < 0 {
		return 0
	}
	return o.Heartbeat
}

func (o *Options) keepEvents() int {
	if o == nil || o.KeepEvents == 0 {
		return 64
	} else if o.KeepEvents < 0 {
		return 0
	}
	return o.KeepEvents
}

// A Broker relays calls from many concurrent callers to a single peer, and
// matches each response from the peer to the caller waiting for it.
//
// The peer connects to the broker through an Accepter passed to Serve. At
// most one peer is connected at a time. Calls issued while no peer is
// connected fail immediately with ErrNotConnected, and calls pending when the
// peer disconnects fail with ErrDisconnected.
type Broker struct {
	log       zerolog.Logger
	timeout   time.Duration
	handlers  *dispatch.Table
	heartbeat time.Duration
	instance  string
	link      *link
	calls     *callTable
	events    *eventHub
	tasks     *taskgroup.Group
	stats     callStats

	μ       sync.Mutex
	serving bool
	closed  bool
	cancel  context.CancelFunc
}

type callStats struct {
	total, succeeded, failed, timedOut, dropped atomic.Int64
}

// New constructs a new Broker with the given options. The broker does not
// accept a peer until Serve is called.
func New(opts *Options) *Broker {
	b := &Broker{
		log:       opts.logger(),
		timeout:   opts.defaultTimeout(),
		handlers:  opts.handlers(),
		heartbeat: opts.heartbeat(),
		instance:  uuid.NewString(),
		events:    newEventHub(opts.keepEvents()),
		tasks:     taskgroup.New(nil),
	}
	b.log = b.log.With().Str("instance", b.instance).Logger()
	b.calls = newCallTable(b.log)
	b.link = &link{h: b, log: b.log, flog: opts.logFrames()}
	return b
}

// Serve accepts peer connections from acc and services them one at a time
// until ctx ends, acc fails, or b is closed. Serve may be called at most once.
// It blocks until all the goroutines it started have exited. Closing b ends
// Serve with a nil error, including when b was closed before Serve began.
func (b *Broker) Serve(ctx context.Context, acc Accepter) error {
	b.μ.Lock()
	if b.closed {
		b.μ.Unlock()
		b.log.Info().Msg("broker closed before serving")
		return nil
	} else if b.serving {
		b.μ.Unlock()
		return errors.New("broker is already serving")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.serving = true
	b.cancel = cancel
	b.μ.Unlock()
	defer cancel()

	b.log.Info().Msg("broker serving")
	err := b.link.serve(ctx, acc)
	cancel()
	b.tasks.Wait()
	b.log.Info().Err(err).Msg("broker stopped")
	return err
}

// Close shuts down b. Any connected peer is dropped, and its pending calls
// fail with ErrDisconnected. Calls issued after Close report ErrClosed.
// Event subscriptions are closed.
func (b *Broker) Close() error {
	b.μ.Lock()
	defer b.μ.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.link.close(ErrClosed)
	if b.cancel != nil {
		b.cancel()
	}
	b.events.closeAll()
	return nil
}

// Instance returns a unique identifier for b, assigned when it was created.
func (b *Broker) Instance() string { return b.instance }

// Connected reports whether a peer is currently connected to b.
func (b *Broker) Connected() bool { return b.link.active() != nil }

// Subscribe returns a channel that receives events as they occur, and a
// function that ends the subscription and closes the channel. Delivery does
// not block the broker: if the channel buffer is full, events are discarded.
func (b *Broker) Subscribe(buf int) (<-chan Event, func()) { return b.events.subscribe(buf) }

// Call sends a request for method with the given parameters to the peer and
// blocks until the peer replies, the timeout elapses, or ctx ends. If timeout
// <= 0, the broker default is used.
//
// Params may be nil (sent as an empty object), a json.RawMessage containing
// valid JSON, or any value that can be encoded as JSON.
//
// If the peer replies with a result, Call returns it. Otherwise the error has
// concrete type *CallError, wrapping one of ErrNotConnected, ErrTimeout,
// ErrDisconnected, ErrClosed, a context error, a *PeerError carrying the
// error reported by the peer, or a *ProtocolError.
func (b *Broker) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	b.stats.total.Add(1)
	brokerMetrics.callOut.Add(1)

	id, result, err := b.call(ctx, nil, method, params, timeout)

	ev := Event{Kind: EventCall, Method: method, ID: id, Duration: time.Since(start)}
	if err == nil {
		b.stats.succeeded.Add(1)
	} else {
		brokerMetrics.callOutErr.Add(1)
		if errors.Is(err, ErrTimeout) {
			b.stats.timedOut.Add(1)
			brokerMetrics.callTimeout.Add(1)
		} else {
			b.stats.failed.Add(1)
		}
		ev.Error = err.Error()
		err = &CallError{Method: method, ID: id, Err: err}
	}
	b.events.publish(ev)
	b.log.Debug().Str("method", method).Uint64("id", id).Dur("elapsed", ev.Duration).Err(err).Msg("call complete")
	return result, err
}

// call issues a single call and reports the ID assigned to it, or 0 if the
// request was never sent. If s != nil, the call is sent only if s is still
// the active session.
func (b *Broker) call(ctx context.Context, s *session, method string, params any, timeout time.Duration) (uint64, json.RawMessage, error) {
	if method == "" {
		return 0, nil, errors.New("empty method name")
	}
	raw, err := encodeParams(params)
	if err != nil {
		return 0, nil, fmt.Errorf("encode params: %w", err)
	}
	if timeout <= 0 {
		timeout = b.timeout
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	var pc *pendingCall
	s, id, err := b.link.reserve(s, func(id uint64) {
		pc = b.calls.register(id, method, timeout)
	})
	if err != nil {
		return 0, nil, err
	}
	brokerMetrics.callPending.Add(1)
	defer brokerMetrics.callPending.Add(-1)

	if err := b.link.send(s, wire.NewRequest(id, method, raw)); err != nil {
		b.calls.fail(id, fmt.Errorf("%w: %w", ErrDisconnected, err))
	}

	// Exactly one outcome is delivered to the slot. If the wait ends some
	// other way, completing the call may lose a race with the peer, in which
	// case the outcome that won is reported.
	var expired <-chan time.Time
	if !pc.deadline.IsZero() {
		timer := time.NewTimer(time.Until(pc.deadline))
		defer timer.Stop()
		expired = timer.C
	}

	var o outcome
	select {
	case o = <-pc.slot:
	case <-expired:
		if b.calls.expire(id) {
			b.log.Debug().Str("method", method).Uint64("id", id).
				Dur("waited", time.Since(pc.created)).Msg("call deadline passed")
		}
		o = <-pc.slot
	case <-ctx.Done():
		b.calls.fail(id, ctx.Err())
		o = <-pc.slot
	}
	if o.err != nil {
		return id, nil, o.err
	} else if e := o.msg.Error; e != nil {
		return id, nil, &PeerError{Code: e.Code, Message: e.Message, Data: e.Data}
	}
	return id, o.msg.Result, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	switch t := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(t) != 0 && !json.Valid(t) {
			return nil, errors.New("invalid JSON parameters")
		}
		return t, nil
	}
	return json.Marshal(params)
}

// attached implements part of linkHandler.
func (b *Broker) attached(s *session) {
	b.events.publish(Event{Kind: EventPeerConnected, Peer: s.addr, Time: s.since})
	if b.heartbeat > 0 {
		b.tasks.Go(func() error { b.runHeartbeat(s); return nil })
	}
}

// runHeartbeat pings the peer of s until the session ends.
func (b *Broker) runHeartbeat(s *session) {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
		}
		_, _, err := b.call(s.ctx, s, PingMethod, nil, b.heartbeat)
		var pe *PeerError
		switch {
		case err == nil, errors.As(err, &pe):
			// The peer answered; a peer that does not know the ping method is
			// still alive.
		case errors.Is(err, ErrTimeout):
			b.log.Warn().Str("peer", s.addr).Dur("timeout", b.heartbeat).Msg("peer missed heartbeat")
			b.link.drop(s, err)
			return
		default:
			return // the session ended
		}
	}
}

// frame implements part of linkHandler.
func (b *Broker) frame(s *session, msg *wire.Message) {
	switch msg.Kind() {
	case wire.KindResponse:
		if msg.NullID {
			b.dropFrame(msg.ID, "response with null id")
		} else if !b.calls.resolve(msg.ID, msg) {
			// The call timed out, was cancelled, or never existed.
			b.dropFrame(msg.ID, "response with no pending call")
		}

	case wire.KindRequest:
		brokerMetrics.callIn.Add(1)
		b.tasks.Go(func() error {
			if rsp := b.handle(s.ctx, msg); rsp != nil {
				b.link.send(s, rsp)
			}
			return nil
		})

	default:
		b.dropFrame(msg.ID, "message is neither a request nor a response")
	}
}

func (b *Broker) dropFrame(id uint64, why string) {
	brokerMetrics.framesDropped.Add(1)
	b.stats.dropped.Add(1)
	b.log.Warn().Uint64("id", id).Msg("dropped " + why)
	b.events.publish(Event{Kind: EventDropped, ID: id, Error: why})
}

// handle services a request from the peer. It returns nil if no response
// should be sent.
func (b *Broker) handle(ctx context.Context, req *wire.Message) *wire.Message {
	if b.handlers == nil {
		if req.NullID {
			return nil
		}
		return req.Reply(nil, wire.Errorf(wire.CodeMethodNotFound, "method %q not found", req.Method))
	}
	return b.handlers.Dispatch(ctx, req)
}

// badFrame implements part of linkHandler.
//
// A malformed request from the peer is answered with an error when its ID can
// be recovered. Its ID is in the peer's numbering, so it never completes a
// call of ours. A malformed response fails the call pending for its ID.
func (b *Broker) badFrame(s *session, pe *wire.ParseError) {
	if pe.IsRequest {
		b.dropFrame(pe.ID, "malformed request")
		if pe.HasID {
			b.tasks.Go(func() error {
				b.link.send(s, wire.NewError(pe.ID, wire.Errorf(wire.CodeInvalidRequest, "%v", pe.Err)))
				return nil
			})
		}
		return
	}
	if !pe.HasID {
		return
	}
	perr := &ProtocolError{ID: pe.ID, Raw: pe.Raw, Err: pe.Err}
	if !b.calls.fail(pe.ID, perr) {
		b.dropFrame(pe.ID, "malformed response with no pending call")
	}
}

// lost implements part of linkHandler. It runs with the link lock held, so no
// call can be registered while the pending calls are drained.
func (b *Broker) lost(s *session, err error) {
	n := b.calls.drainAll(ErrDisconnected)
	ev := Event{Kind: EventPeerDisconnected, Peer: s.addr, Drained: n}
	if err != nil {
		ev.Error = err.Error()
	}
	b.events.publish(ev)
	if n > 0 {
		b.log.Info().Str("peer", s.addr).Int("drained", n).Msg("failed pending calls on disconnect")
	}
}

// Stats is a snapshot of broker state.
type Stats struct {
	Instance       string     `json:"instance"`
	Connected      bool       `json:"connected"`
	Peer           string     `json:"peer,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	Pending        int        `json:"pending"`
	Calls          int64      `json:"calls_total"`
	Succeeded      int64      `json:"calls_succeeded"`
	Failed         int64      `json:"calls_failed"`
	TimedOut       int64      `json:"calls_timeout"`
	Dropped        int64      `json:"frames_dropped"`
	Recent         []Event    `json:"recent,omitempty"`
}

// Stats returns a snapshot of the current state of b.
func (b *Broker) Stats() Stats {
	st := Stats{
		Instance:  b.instance,
		Pending:   b.calls.len(),
		Calls:     b.stats.total.Load(),
		Succeeded: b.stats.succeeded.Load(),
		Failed:    b.stats.failed.Load(),
		TimedOut:  b.stats.timedOut.Load(),
		Dropped:   b.stats.dropped.Load(),
		Recent:    b.events.snapshot(),
	}
	if s := b.link.active(); s != nil {
		since := s.since
		st.Connected = true
		st.Peer = s.addr
		st.ConnectedSince = &since
	}
	return st
}
