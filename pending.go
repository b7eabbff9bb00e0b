// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/relay/wire"
	"github.com/rs/zerolog"
)

// An outcome is the single result delivered to a pending call: either a
// response message from the peer, or an error.
type outcome struct {
	msg *wire.Message
	err error
}

// A pendingCall is the bookkeeping for one outbound request awaiting its
// response. The slot has capacity 1 and receives exactly one outcome.
type pendingCall struct {
	id       uint64
	method   string
	slot     chan outcome
	created  time.Time
	deadline time.Time // zero if the call has no deadline
}

// A callTable maps the IDs of in-flight requests to their waiters.
//
// Each entry is completed by exactly one of resolve, fail, expire, or
// drainAll. Completion removes the entry, so a second attempt to complete the
// same ID finds nothing, and is logged and ignored.
type callTable struct {
	log zerolog.Logger

	μ     sync.Mutex
	calls map[uint64]*pendingCall
}

func newCallTable(log zerolog.Logger) *callTable {
	return &callTable{log: log, calls: make(map[uint64]*pendingCall)}
}

// register adds a pending call for id and returns its waiter. A timeout <= 0
// means the call has no deadline. It panics if id is already pending, since
// that means an identifier was reused.
func (t *callTable) register(id uint64, method string, timeout time.Duration) *pendingCall {
	now := time.Now()
	pc := &pendingCall{
		id:      id,
		method:  method,
		slot:    make(chan outcome, 1),
		created: now,
	}
	if timeout > 0 {
		pc.deadline = now.Add(timeout)
	}

	t.μ.Lock()
	defer t.μ.Unlock()
	if _, ok := t.calls[id]; ok {
		panic(fmt.Sprintf("duplicate pending call id %d", id))
	}
	t.calls[id] = pc
	return pc
}

// resolve delivers the response msg to the call pending for id, and reports
// whether a matching call was found. A response with no pending call is
// dropped.
func (t *callTable) resolve(id uint64, msg *wire.Message) bool {
	return t.complete(id, outcome{msg: msg}, "resolve")
}

// fail delivers err to the call pending for id, and reports whether a
// matching call was found.
func (t *callTable) fail(id uint64, err error) bool {
	return t.complete(id, outcome{err: err}, "fail")
}

// expire delivers ErrTimeout to the call pending for id, and reports whether
// a matching call was found. If it reports false, the call was completed by
// some other path first.
func (t *callTable) expire(id uint64) bool {
	return t.complete(id, outcome{err: ErrTimeout}, "expire")
}

func (t *callTable) complete(id uint64, o outcome, how string) bool {
	t.μ.Lock()
	pc, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.μ.Unlock()

	if !ok {
		t.log.Debug().Uint64("id", id).Str("op", how).Msg("no pending call for id; ignored")
		return false
	}
	pc.deliver(o, t.log)
	return true
}

// drainAll delivers err to every pending call and empties the table. It
// returns the number of calls drained.
func (t *callTable) drainAll(err error) int {
	t.μ.Lock()
	calls := t.calls
	t.calls = make(map[uint64]*pendingCall)
	t.μ.Unlock()

	for _, pc := range calls {
		pc.deliver(outcome{err: err}, t.log)
	}
	return len(calls)
}

// len reports the number of calls currently pending.
func (t *callTable) len() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.calls)
}

// deliver sends o to the slot of pc without blocking. The table guarantees a
// single delivery; a second one is logged and discarded.
func (pc *pendingCall) deliver(o outcome, log zerolog.Logger) {
	select {
	case pc.slot <- o:
	default:
		log.Error().Uint64("id", pc.id).Str("method", pc.method).Msg("pending call already completed; outcome discarded")
	}
}
