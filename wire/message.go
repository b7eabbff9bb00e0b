// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wire defines the envelopes exchanged between a relay broker and its
// peer, and the framing rules used to carry them over a byte stream.
//
// Envelopes follow the shape of JSON-RPC 2.0: a request carries an ID, a method
// name and a parameter value; a response carries the ID of the request it
// answers and exactly one of a result value or an error object.
//
// Encoded envelopes are delimited on the stream by a [Framing]. The default is
// [Lines], one envelope per newline-terminated line. The [Decoder] is the only
// place where partial frames are buffered: a single transport read may carry
// part of a frame, a whole frame, or several concatenated frames.
package wire

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Version is the protocol version string carried by every envelope.
const Version = "2.0"

// A Message is a request or response envelope.
//
// A request has a non-empty Method. A response has an empty Method and
// exactly one of Result or Error set. A message with NullID set carries a null
// (or absent) identifier; for a request this means a notification that does
// not expect a reply.
type Message struct {
	ID     uint64
	NullID bool
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *ErrorObject
}

// Kind describes the role of a decoded message.
type Kind byte

const (
	KindInvalid  Kind = iota // neither a request nor a response
	KindRequest              // a call or notification
	KindResponse             // a result or error for a previous request
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	default:
		return "INVALID"
	}
}

// Kind reports the role of m.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "":
		return KindRequest
	case m.Error != nil || m.Result != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// NewRequest constructs a request message for method with the given encoded
// parameters. If params is empty, an empty object is sent.
func NewRequest(id uint64, method string, params json.RawMessage) *Message {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return &Message{ID: id, Method: method, Params: params}
}

// NewResult constructs a successful response to request id.
func NewResult(id uint64, result json.RawMessage) *Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Message{ID: id, Result: result}
}

// NewError constructs an error response to request id.
func NewError(id uint64, e *ErrorObject) *Message {
	return &Message{ID: id, Error: e}
}

// Reply constructs a response to m reporting the given result or error.
// If err != nil, it is converted using [AsErrorObject].
func (m *Message) Reply(result json.RawMessage, err error) *Message {
	var rsp *Message
	if err != nil {
		rsp = NewError(m.ID, AsErrorObject(err))
	} else {
		rsp = NewResult(m.ID, result)
	}
	rsp.NullID = m.NullID
	return rsp
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	id := fmt.Sprint(m.ID)
	if m.NullID {
		id = "null"
	}
	switch m.Kind() {
	case KindRequest:
		return fmt.Sprintf("Request(ID=%s, Method=%q, Params=%s)", id, m.Method, clip(m.Params))
	case KindResponse:
		if m.Error != nil {
			return fmt.Sprintf("Response(ID=%s, Error=%v)", id, m.Error)
		}
		return fmt.Sprintf("Response(ID=%s, Result=%s)", id, clip(m.Result))
	default:
		return fmt.Sprintf("Message(ID=%s, invalid)", id)
	}
}

func clip(data []byte) string {
	if len(data) > 64 {
		return string(data[:64]) + " ..."
	}
	return string(data)
}

// An ErrorObject is the error member of a response envelope. It implements
// the error interface so that a command handler can return one to control the
// code, message, and data reported to the caller.
type ErrorObject struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error satisfies the error interface.
func (e *ErrorObject) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[code %d] %s", e.Code, e.Message)
	}
	return e.Message
}

// Errorf constructs an *ErrorObject with the given code and formatted message.
func Errorf(code Code, msg string, args ...any) *ErrorObject {
	return &ErrorObject{Code: code, Message: fmt.Sprintf(msg, args...)}
}

// WithData returns a copy of e with its data set to the JSON encoding of v.
// If v cannot be encoded, its string representation is used instead.
func (e *ErrorObject) WithData(v any) *ErrorObject {
	cp := *e
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	cp.Data = data
	return &cp
}

// AsErrorObject converts err to an *ErrorObject. If err is or wraps an
// *ErrorObject, that value is returned; otherwise the result has code
// [CodeInternalError] and the text of err as its message.
func AsErrorObject(err error) *ErrorObject {
	var eo *ErrorObject
	if errors.As(err, &eo) {
		return eo
	}
	return &ErrorObject{Code: CodeInternalError, Message: err.Error()}
}
