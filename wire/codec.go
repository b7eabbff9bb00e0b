// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// A ParseError reports a frame that could not be decoded as an envelope.
// Raw holds a copy of the offending frame. If the frame carried a recognizable
// identifier, HasID is true and ID holds its value, so a receiver may
// correlate the failure with a pending request. IsRequest is true if the
// frame had a "method" field, in which case ID belongs to the sender's own
// numbering and does not name a request of the receiver.
type ParseError struct {
	Raw       []byte
	ID        uint64
	HasID     bool
	IsRequest bool
	Err       error
}

// Error satisfies the error interface.
func (p *ParseError) Error() string {
	if p.HasID {
		return fmt.Sprintf("parse error (id %d): %v", p.ID, p.Err)
	}
	return fmt.Sprintf("parse error: %v", p.Err)
}

// Unwrap reports the underlying cause of p.
func (p *ParseError) Unwrap() error { return p.Err }

// request is the encoded shape of a request.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is the encoded shape of a response. The ID is always present,
// and is null when the request ID could not be determined.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Marshal encodes m as a single JSON envelope without framing.
// It panics if m contains a value that cannot be encoded, such as a
// syntactically invalid json.RawMessage.
func Marshal(m *Message) []byte {
	var id *uint64
	if !m.NullID {
		id = &m.ID
	}
	var v any
	if m.Method != "" {
		v = request{JSONRPC: Version, ID: id, Method: m.Method, Params: m.Params}
	} else {
		rsp := response{JSONRPC: Version, ID: id, Error: m.Error}
		if m.Error == nil {
			rsp.Result = m.Result
			if len(rsp.Result) == 0 {
				rsp.Result = json.RawMessage("null")
			}
		}
		v = rsp
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("encoding message: %w", err))
	}
	return data
}

// Unmarshal decodes a single unframed envelope. Any error it reports has
// concrete type *ParseError.
func Unmarshal(frame []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	fail := func(m *Message, hasID bool, err error) (*Message, error) {
		pe := &ParseError{Raw: bytes.Clone(frame), HasID: hasID, Err: err}
		if m != nil {
			pe.ID = m.ID
		}
		_, pe.IsRequest = fields["method"]
		return nil, pe
	}

	if err := json.Unmarshal(frame, &fields); err != nil {
		return fail(nil, false, err)
	} else if fields == nil {
		return fail(nil, false, fmt.Errorf("envelope is not an object"))
	}

	m := new(Message)
	hasID := false
	if raw, ok := fields["id"]; !ok || isNull(raw) {
		m.NullID = true
	} else if id, err := parseID(raw); err != nil {
		return fail(nil, false, err)
	} else {
		m.ID = id
		hasID = true
	}

	if raw, ok := fields["jsonrpc"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v != Version {
			return fail(m, hasID, fmt.Errorf("unsupported protocol version %s", raw))
		}
	}

	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &m.Method); err != nil {
			return fail(m, hasID, fmt.Errorf("invalid method: %w", err))
		} else if m.Method == "" {
			return fail(m, hasID, fmt.Errorf("empty method name"))
		}
		if raw, ok := fields["params"]; ok && !isNull(raw) {
			m.Params = bytes.Clone(raw)
		}
		return m, nil
	}

	res, hasResult := fields["result"]
	eraw, hasError := fields["error"]
	if hasError && isNull(eraw) {
		hasError = false // some peers send "error": null alongside a result
	}
	switch {
	case hasResult && hasError:
		return fail(m, hasID, fmt.Errorf("response has both result and error"))
	case !hasResult && !hasError:
		return fail(m, hasID, fmt.Errorf("envelope has no method, result, or error"))
	case hasError:
		var eo struct {
			Code    *Code           `json:"code"`
			Message *string         `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(eraw, &eo); err != nil {
			return fail(m, hasID, fmt.Errorf("invalid error object: %w", err))
		} else if eo.Code == nil || eo.Message == nil {
			return fail(m, hasID, fmt.Errorf("error object missing code or message"))
		}
		m.Error = &ErrorObject{Code: *eo.Code, Message: *eo.Message}
		if len(eo.Data) != 0 && !isNull(eo.Data) {
			m.Error.Data = bytes.Clone(eo.Data)
		}
	default:
		m.Result = bytes.Clone(res)
		if len(m.Result) == 0 {
			m.Result = json.RawMessage("null")
		}
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// parseID accepts a non-negative integer, or a string containing one.
func parseID(raw json.RawMessage) (uint64, error) {
	s := string(bytes.TrimSpace(raw))
	if len(s) >= 2 && s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid id %s: %w", raw, err)
		}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %s", raw)
	}
	return id, nil
}
