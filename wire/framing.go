// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// Framing selects how encoded envelopes are delimited on a byte stream.
type Framing byte

const (
	// Lines frames each envelope as a single line terminated by "\n".
	// A trailing "\r" and blank lines are ignored.
	Lines Framing = iota

	// LengthPrefix frames each envelope as a 4-byte big-endian length
	// followed by that many bytes of envelope.
	LengthPrefix
)

func (f Framing) String() string {
	switch f {
	case Lines:
		return "lines"
	case LengthPrefix:
		return "length"
	default:
		return fmt.Sprintf("framing:%d", byte(f))
	}
}

// ParseFraming parses the name of a framing as reported by its String method.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "lines", "line", "newline", "":
		return Lines, nil
	case "length", "length-prefix":
		return LengthPrefix, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", s)
	}
}

// DefaultMaxFrameSize is the largest frame a Decoder accepts unless
// configured otherwise.
const DefaultMaxFrameSize = 16 << 20

var (
	// ErrIncomplete is reported by [Decoder.Next] when the buffered input does
	// not yet contain a complete frame.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrFrameTooLarge is reported when a frame exceeds the maximum size.
	// The framing boundary is lost when this happens, so the stream cannot be
	// decoded further.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Encode encodes m with the specified framing.
func Encode(f Framing, m *Message) []byte {
	body := Marshal(m)
	if f == LengthPrefix {
		buf := make([]byte, 4, 4+len(body))
		binary.BigEndian.PutUint32(buf, uint32(len(body)))
		return append(buf, body...)
	}
	return append(body, '\n')
}

// A Decoder splits a stream of bytes into frames and decodes each complete
// frame into a Message. A Decoder is not safe for concurrent use.
type Decoder struct {
	framing Framing
	max     int
	buf     []byte
}

// NewDecoder constructs a Decoder for the given framing, accepting frames up
// to maxFrame bytes. If maxFrame <= 0, DefaultMaxFrameSize is used.
func NewDecoder(f Framing, maxFrame int) *Decoder {
	return &Decoder{framing: f, max: value.Cond(maxFrame > 0, maxFrame, DefaultMaxFrameSize)}
}

// Feed appends data, the contents of a single transport read, to the input
// buffer of d. The contents of data are copied.
func (d *Decoder) Feed(data []byte) { d.buf = append(d.buf, data...) }

// Buffered reports the number of bytes buffered and not yet consumed.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next decodes and returns the next complete message in the buffer.
//
// If no complete frame is buffered, Next reports ErrIncomplete and the caller
// should Feed more input. If a complete frame does not decode, Next consumes
// the frame and returns a *ParseError, so decoding can resume with the next
// frame. If the frame exceeds the size limit, Next reports ErrFrameTooLarge
// and the decoder is no longer usable.
func (d *Decoder) Next() (*Message, error) {
	for {
		frame, err := d.nextFrame()
		if err != nil {
			return nil, err
		} else if frame == nil {
			continue // blank line
		}
		return Unmarshal(frame)
	}
}

// nextFrame removes and returns the next frame from the buffer. It returns
// nil without error for a frame that should be skipped.
func (d *Decoder) nextFrame() ([]byte, error) {
	switch d.framing {
	case LengthPrefix:
		if len(d.buf) < 4 {
			return nil, ErrIncomplete
		}
		n := binary.BigEndian.Uint32(d.buf)
		if uint64(n) > uint64(d.max) {
			return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, d.max)
		} else if len(d.buf) < 4+int(n) {
			return nil, ErrIncomplete
		}
		frame := d.buf[4 : 4+n]
		d.consume(4 + int(n))
		return frame, nil

	default:
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			if len(d.buf) > d.max {
				return nil, fmt.Errorf("%w: more than %d bytes without a newline", ErrFrameTooLarge, d.max)
			}
			return nil, ErrIncomplete
		} else if i > d.max {
			return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, i, d.max)
		}
		frame := bytes.TrimSpace(d.buf[:i])
		d.consume(i + 1)
		if len(frame) == 0 {
			return nil, nil
		}
		return frame, nil
	}
}

// consume discards n bytes from the front of the buffer. The slice reported
// by nextFrame remains valid until the next call to Feed.
func (d *Decoder) consume(n int) {
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

// A Reader reads framed messages from an underlying io.Reader.
type Reader struct {
	r   io.Reader
	dec *Decoder
	buf []byte
}

// NewReader constructs a Reader that decodes messages from r.
func NewReader(r io.Reader, f Framing, maxFrame int) *Reader {
	return &Reader{r: r, dec: NewDecoder(f, maxFrame), buf: make([]byte, 4096)}
}

// ReadMessage reads and returns the next message from the stream.
//
// An error of concrete type *ParseError means the current frame was malformed
// and discarded; the stream is still usable and the caller may continue to
// read. Any other error is fatal to the stream. If the stream ends in the
// middle of a frame, ReadMessage reports io.ErrUnexpectedEOF.
func (r *Reader) ReadMessage() (*Message, error) {
	for {
		msg, err := r.dec.Next()
		if !errors.Is(err, ErrIncomplete) {
			return msg, err
		}
		nr, err := r.r.Read(r.buf)
		if nr > 0 {
			r.dec.Feed(r.buf[:nr])
		}
		if err != nil {
			if err == io.EOF && nr > 0 {
				continue // decode what arrived; the next read reports EOF again
			} else if err == io.EOF && r.dec.Buffered() != 0 {
				if r.dec.framing == Lines {
					// Accept a final line without its terminator.
					r.dec.Feed([]byte{'\n'})
					msg, err := r.dec.Next()
					if !errors.Is(err, ErrIncomplete) {
						return msg, err
					} else if r.dec.Buffered() == 0 {
						return nil, io.EOF
					}
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// WriteMessage encodes m with the specified framing and writes it to w.
func WriteMessage(w io.Writer, f Framing, m *Message) error {
	_, err := w.Write(Encode(f, m))
	return err
}
