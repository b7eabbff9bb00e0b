// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire

import "fmt"

// Code is the numeric code of an error object. The values defined here are
// part of the external contract and do not change between versions.
type Code int

const (
	// Reserved codes defined by JSON-RPC 2.0.
	CodeParseError     Code = -32700 // Malformed envelope
	CodeInvalidRequest Code = -32600 // Envelope is not a valid request
	CodeMethodNotFound Code = -32601 // No handler for the method
	CodeInvalidParams  Code = -32602 // Parameters did not decode
	CodeInternalError  Code = -32603 // Handler failed or panicked

	// Codes reported by the broker itself on the caller surface.
	CodeNotConnected  Code = -32001 // No peer is connected
	CodeTimeout       Code = -32002 // No response before the deadline
	CodeDisconnected  Code = -32003 // The peer was lost while the call was pending
	CodeProtocolError Code = -32004 // The peer sent a malformed response
	CodeRateLimited   Code = -32005 // The caller exceeded the call rate limit
)

func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "PARSE_ERROR"
	case CodeInvalidRequest:
		return "INVALID_REQUEST"
	case CodeMethodNotFound:
		return "METHOD_NOT_FOUND"
	case CodeInvalidParams:
		return "INVALID_PARAMS"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeNotConnected:
		return "NOT_CONNECTED"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeDisconnected:
		return "DISCONNECTED"
	case CodeProtocolError:
		return "PROTOCOL_ERROR"
	case CodeRateLimited:
		return "RATE_LIMITED"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}
