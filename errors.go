// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import (
	"errors"
	"fmt"

	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
)

var (
	// ErrNotConnected is reported by a call issued while no peer is connected.
	ErrNotConnected = errors.New("peer not connected")

	// ErrTimeout is reported by a call whose deadline elapsed before the peer
	// replied. The outcome of the request on the peer is unknown.
	ErrTimeout = errors.New("call timed out")

	// ErrDisconnected is reported by a call that was pending when the peer
	// connection was lost.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrClosed is reported by a call issued after the broker was closed.
	ErrClosed = errors.New("broker closed")

	// ErrRateLimited is reported to a remote caller that exceeded the rate
	// limit of the caller surface. No request was sent to the peer.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// CallError is the concrete type of errors reported by the Call method of a
// Broker. Err is one of ErrNotConnected, ErrTimeout, ErrDisconnected,
// ErrClosed, a context error, or a value of type *PeerError or *ProtocolError.
type CallError struct {
	Method string // the method that was called
	ID     uint64 // the request ID, or 0 if no request was issued
	Err    error
}

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.ID == 0 {
		return fmt.Sprintf("call %q: %v", c.Method, c.Err)
	}
	return fmt.Sprintf("call %q (id %d): %v", c.Method, c.ID, c.Err)
}

// Unwrap reports the underlying error of c.
func (c *CallError) Unwrap() error { return c.Err }

// PeerError reports an error object returned by the peer in response to a
// call. Callers should surface Code and Message verbatim.
type PeerError struct {
	Code    wire.Code
	Message string
	Data    json.RawMessage
}

// Error satisfies the error interface.
func (p *PeerError) Error() string {
	return fmt.Sprintf("peer error [code %d]: %s", p.Code, p.Message)
}

// ProtocolError reports a response frame that carried the ID of a pending
// call but could not be decoded. It is treated as a failure of the peer.
type ProtocolError struct {
	ID  uint64
	Raw []byte // the offending frame
	Err error
}

// Error satisfies the error interface.
func (p *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (id %d): %v", p.ID, p.Err)
}

// Unwrap reports the underlying cause of p.
func (p *ProtocolError) Unwrap() error { return p.Err }

// Retryable reports whether err is an infrastructure failure for which the
// caller should reconnect and retry, rather than a permanent failure reported
// by the peer.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// ErrorObject converts an error reported by Broker.Call into an error object
// suitable for reporting to a remote caller. Peer errors are reported with
// their original code, message, and data.
func ErrorObject(err error) *wire.ErrorObject {
	var pe *PeerError
	var xe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return &wire.ErrorObject{Code: pe.Code, Message: pe.Message, Data: pe.Data}
	case errors.As(err, &xe):
		return wire.Errorf(wire.CodeProtocolError, "%v", xe.Err)
	case errors.Is(err, ErrNotConnected):
		return wire.Errorf(wire.CodeNotConnected, "%v", ErrNotConnected)
	case errors.Is(err, ErrDisconnected):
		return wire.Errorf(wire.CodeDisconnected, "%v", ErrDisconnected)
	case errors.Is(err, ErrTimeout):
		return wire.Errorf(wire.CodeTimeout, "%v", ErrTimeout)
	case errors.Is(err, ErrClosed):
		return wire.Errorf(wire.CodeNotConnected, "%v", ErrClosed)
	case errors.Is(err, ErrRateLimited):
		return wire.Errorf(wire.CodeRateLimited, "%v", ErrRateLimited)
	default:
		return wire.AsErrorObject(err)
	}
}

// FromErrorObject reverses ErrorObject, reconstructing the error reported to
// a remote caller. Codes reserved for broker failures map back to the
// corresponding sentinel errors; all other codes yield a *PeerError.
func FromErrorObject(eo *wire.ErrorObject) error {
	switch eo.Code {
	case wire.CodeNotConnected:
		return ErrNotConnected
	case wire.CodeDisconnected:
		return ErrDisconnected
	case wire.CodeTimeout:
		return ErrTimeout
	case wire.CodeRateLimited:
		return ErrRateLimited
	case wire.CodeProtocolError:
		return &ProtocolError{Err: errors.New(eo.Message)}
	default:
		return &PeerError{Code: eo.Code, Message: eo.Message, Data: eo.Data}
	}
}
