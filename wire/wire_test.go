// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		msg  *wire.Message
		want string
	}{
		{wire.NewRequest(7, "get_x", nil),
			`{"jsonrpc":"2.0","id":7,"method":"get_x","params":{}}`},
		{wire.NewRequest(8, "set_metadata", json.RawMessage(`{"rating":3}`)),
			`{"jsonrpc":"2.0","id":8,"method":"set_metadata","params":{"rating":3}}`},
		{&wire.Message{Method: "note", NullID: true},
			`{"jsonrpc":"2.0","method":"note"}`},
		{wire.NewResult(9, nil),
			`{"jsonrpc":"2.0","id":9,"result":null}`},
		{wire.NewResult(10, json.RawMessage(`{"a":1}`)),
			`{"jsonrpc":"2.0","id":10,"result":{"a":1}}`},
		{wire.NewError(11, wire.Errorf(wire.CodeMethodNotFound, "no such method")),
			`{"jsonrpc":"2.0","id":11,"error":{"code":-32601,"message":"no such method"}}`},
		{&wire.Message{NullID: true, Error: wire.Errorf(wire.CodeParseError, "bad")},
			`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"bad"}}`},
	}
	for _, tc := range tests {
		if got := string(wire.Marshal(tc.msg)); got != tc.want {
			t.Errorf("Marshal %v:\n got %s\nwant %s", tc.msg, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	params := []string{`{}`, `{"a":1,"b":[true,null,"x"]}`, `[1,2,3]`, `"scalar"`, `17`}
	for _, f := range []wire.Framing{wire.Lines, wire.LengthPrefix} {
		for i, p := range params {
			in := wire.NewRequest(uint64(i+1), "get_x", json.RawMessage(p))

			dec := wire.NewDecoder(f, 0)
			dec.Feed(wire.Encode(f, in))
			got, err := dec.Next()
			if err != nil {
				t.Fatalf("[%v] Next: unexpected error: %v", f, err)
			}
			if diff := cmp.Diff(in, got); diff != "" {
				t.Errorf("[%v] Round trip (-want, +got):\n%s", f, diff)
			}
			if _, err := dec.Next(); !errors.Is(err, wire.ErrIncomplete) {
				t.Errorf("[%v] Next after last frame: got %v, want %v", f, err, wire.ErrIncomplete)
			}
		}
	}
}

func TestPartialFrames(t *testing.T) {
	for _, f := range []wire.Framing{wire.Lines, wire.LengthPrefix} {
		var stream []byte
		var want []*wire.Message
		for i := range 5 {
			m := wire.NewResult(uint64(i+1), json.RawMessage(`{"n":`+strings.Repeat("1", i+1)+`}`))
			want = append(want, m)
			stream = append(stream, wire.Encode(f, m)...)
		}

		// Feed the stream one byte at a time, collecting whatever decodes.
		dec := wire.NewDecoder(f, 0)
		var got []*wire.Message
		for _, b := range stream {
			dec.Feed([]byte{b})
			for {
				m, err := dec.Next()
				if errors.Is(err, wire.ErrIncomplete) {
					break
				} else if err != nil {
					t.Fatalf("[%v] Next: unexpected error: %v", f, err)
				}
				got = append(got, m)
			}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("[%v] Messages (-want, +got):\n%s", f, diff)
		}
		if n := dec.Buffered(); n != 0 {
			t.Errorf("[%v] Buffered: got %d, want 0", f, n)
		}
	}
}

func TestMultipleFramesOneRead(t *testing.T) {
	dec := wire.NewDecoder(wire.Lines, 0)
	dec.Feed([]byte("{\"id\":1,\"result\":1}\r\n\n{\"id\":2,\"result\":2}\n{\"id\":3,"))

	for _, want := range []uint64{1, 2} {
		m, err := dec.Next()
		if err != nil {
			t.Fatalf("Next: unexpected error: %v", err)
		} else if m.ID != want {
			t.Errorf("Next: got ID %d, want %d", m.ID, want)
		}
	}
	if m, err := dec.Next(); !errors.Is(err, wire.ErrIncomplete) {
		t.Fatalf("Next: got %v, %v; want %v", m, err, wire.ErrIncomplete)
	}
	dec.Feed([]byte("\"result\":3}\n"))
	if m, err := dec.Next(); err != nil || m.ID != 3 {
		t.Errorf("Next: got %v, %v; want ID 3", m, err)
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		input string
		hasID bool
		id    uint64
		isReq bool
	}{
		{`not json`, false, 0, false},
		{`[1,2]`, false, 0, false},
		{`null`, false, 0, false},
		{`{"id":"abc","result":1}`, false, 0, false},
		{`{"id":-1,"result":1}`, false, 0, false},
		{`{"id":5}`, true, 5, false},
		{`{"id":6,"result":1,"error":{"code":1,"message":"x"}}`, true, 6, false},
		{`{"id":7,"error":"broken"}`, true, 7, false},
		{`{"id":8,"error":{"message":"no code"}}`, true, 8, false},
		{`{"jsonrpc":"1.0","id":9,"result":1}`, true, 9, false},
		{`{"id":10,"method":""}`, true, 10, true},
		{`{"jsonrpc":"2.0","id":11,"method":42,"params":{}}`, true, 11, true},
		{`{"jsonrpc":"1.0","id":12,"method":"ping"}`, true, 12, true},
		{`{"id":"x","method":"ping"}`, false, 0, true},
	}
	for _, tc := range tests {
		dec := wire.NewDecoder(wire.Lines, 0)
		dec.Feed([]byte(tc.input + "\n" + `{"id":99,"result":true}` + "\n"))

		_, err := dec.Next()
		var pe *wire.ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Next %q: got %v, want *ParseError", tc.input, err)
			continue
		}
		if got := string(pe.Raw); got != tc.input {
			t.Errorf("Raw: got %q, want %q", got, tc.input)
		}
		if pe.HasID != tc.hasID || pe.ID != tc.id {
			t.Errorf("Next %q: got id (%v, %d), want (%v, %d)", tc.input, pe.HasID, pe.ID, tc.hasID, tc.id)
		}
		if pe.IsRequest != tc.isReq {
			t.Errorf("Next %q: IsRequest is %v, want %v", tc.input, pe.IsRequest, tc.isReq)
		}

		// Decoding resumes at the next frame.
		if m, err := dec.Next(); err != nil || m.ID != 99 {
			t.Errorf("Next after error: got %v, %v; want ID 99", m, err)
		}
	}
}

func TestUnmarshalVariants(t *testing.T) {
	tests := []struct {
		input string
		want  *wire.Message
	}{
		{`{"jsonrpc":"2.0","id":"12","result":{"a":1}}`,
			&wire.Message{ID: 12, Result: json.RawMessage(`{"a":1}`)}},
		{`{"id":3,"result":null,"error":null}`,
			&wire.Message{ID: 3, Result: json.RawMessage(`null`)}},
		{`{"id":4,"error":{"code":-32601,"message":"nope","data":{"m":"x"}}}`,
			&wire.Message{ID: 4, Error: &wire.ErrorObject{
				Code: wire.CodeMethodNotFound, Message: "nope", Data: json.RawMessage(`{"m":"x"}`),
			}}},
		{`{"method":"ping"}`,
			&wire.Message{NullID: true, Method: "ping"}},
		{`{"id":1,"method":"get_x","params":null}`,
			&wire.Message{ID: 1, Method: "get_x"}},
	}
	for _, tc := range tests {
		got, err := wire.Unmarshal([]byte(tc.input))
		if err != nil {
			t.Errorf("Unmarshal %q: unexpected error: %v", tc.input, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Unmarshal %q (-want, +got):\n%s", tc.input, diff)
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	t.Run("Lines", func(t *testing.T) {
		dec := wire.NewDecoder(wire.Lines, 16)
		dec.Feed(bytes.Repeat([]byte("x"), 20))
		if _, err := dec.Next(); !errors.Is(err, wire.ErrFrameTooLarge) {
			t.Errorf("Next: got %v, want %v", err, wire.ErrFrameTooLarge)
		}
	})
	t.Run("Length", func(t *testing.T) {
		dec := wire.NewDecoder(wire.LengthPrefix, 16)
		dec.Feed([]byte{0, 0, 1, 0})
		if _, err := dec.Next(); !errors.Is(err, wire.ErrFrameTooLarge) {
			t.Errorf("Next: got %v, want %v", err, wire.ErrFrameTooLarge)
		}
	})
}

func TestReader(t *testing.T) {
	input := "{\"id\":1,\"result\":1}\ngarbage\n{\"id\":2,\"result\":2}"
	r := wire.NewReader(iotest{strings.NewReader(input)}, wire.Lines, 0)

	m, err := r.ReadMessage()
	if err != nil || m.ID != 1 {
		t.Fatalf("ReadMessage: got %v, %v; want ID 1", m, err)
	}
	var pe *wire.ParseError
	if _, err := r.ReadMessage(); !errors.As(err, &pe) {
		t.Fatalf("ReadMessage: got %v, want *ParseError", err)
	} else if got := string(pe.Raw); got != "garbage" {
		t.Errorf("ParseError raw: got %q, want %q", got, "garbage")
	}

	// The last line has no terminator, but is accepted at EOF.
	m, err = r.ReadMessage()
	if err != nil || m.ID != 2 {
		t.Fatalf("ReadMessage: got %v, %v; want ID 2", m, err)
	}
	if _, err := r.ReadMessage(); err != io.EOF {
		t.Errorf("ReadMessage at end: got %v, want %v", err, io.EOF)
	}

	// A truncated length-prefixed frame is an unexpected EOF.
	lr := wire.NewReader(bytes.NewReader([]byte{0, 0, 0, 9, '{'}), wire.LengthPrefix, 0)
	if _, err := lr.ReadMessage(); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadMessage truncated: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

// iotest delivers its input in reads of at most 3 bytes.
type iotest struct{ r io.Reader }

func (t iotest) Read(data []byte) (int, error) {
	if len(data) > 3 {
		data = data[:3]
	}
	return t.r.Read(data)
}

func TestErrorObject(t *testing.T) {
	base := errors.New("plain")
	if got := wire.AsErrorObject(base); got.Code != wire.CodeInternalError || got.Message != "plain" {
		t.Errorf("AsErrorObject(plain): got %+v", got)
	}
	eo := wire.Errorf(wire.CodeInvalidParams, "bad %s", "rating").WithData(map[string]int{"max": 5})
	wrapped := errors.Join(errors.New("context"), eo)
	if got := wire.AsErrorObject(wrapped); got != eo {
		t.Errorf("AsErrorObject(wrapped): got %+v, want %+v", got, eo)
	}
	if got, want := eo.Error(), "[code -32602] bad rating"; got != want {
		t.Errorf("Error: got %q, want %q", got, want)
	}
	if got, want := string(eo.Data), `{"max":5}`; got != want {
		t.Errorf("Data: got %q, want %q", got, want)
	}
}
