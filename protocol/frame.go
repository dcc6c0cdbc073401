package protocol

import (
	"bytes"
	"errors"
	"io"
)

const (
	// MaxFrameSize bounds a single frame, terminator excluded.
	MaxFrameSize = 1 << 20
	readChunk    = 4096
)

// ErrFrameTooLong is returned when no terminator shows up within the frame limit.
var ErrFrameTooLong = errors.New("frame exceeds size limit")

// FrameBuffer reassembles newline-terminated frames from arbitrary chunks.
// Complete frames are handed out by Next; a trailing partial frame stays
// buffered until the rest of it is written.
type FrameBuffer struct {
	buf []byte
	max int
}

// NewFrameBuffer returns a buffer that rejects frames longer than max bytes.
// A max of zero or less means MaxFrameSize.
func NewFrameBuffer(max int) *FrameBuffer {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &FrameBuffer{max: max}
}

// Write appends raw stream bytes. It never fails.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Next pops the next complete frame. ok is false when only a partial frame
// (or nothing) is buffered.
func (b *FrameBuffer) Next() (frame []byte, ok bool, err error) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		if len(b.buf) > b.max {
			return nil, false, ErrFrameTooLong
		}
		return nil, false, nil
	}
	if i > b.max {
		return nil, false, ErrFrameTooLong
	}
	frame = make([]byte, i)
	copy(frame, b.buf[:i])
	b.buf = b.buf[i+1:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return frame, true, nil
}

// Buffered reports how many bytes of an incomplete frame are held.
func (b *FrameBuffer) Buffered() int { return len(b.buf) }

// Decoder reads messages off a byte stream one frame at a time.
type Decoder struct {
	r      io.Reader
	frames *FrameBuffer
	chunk  []byte
	err    error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:      r,
		frames: NewFrameBuffer(MaxFrameSize),
		chunk:  make([]byte, readChunk),
	}
}

// Next blocks until a full frame is available and decodes it. Frames already
// buffered are returned before a read error is reported. A stream that ends
// mid-frame yields io.ErrUnexpectedEOF.
func (d *Decoder) Next() (Message, error) {
	for {
		frame, ok, err := d.frames.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return Decode(frame)
		}
		if d.err != nil {
			if d.err == io.EOF && d.frames.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			_, _ = d.frames.Write(d.chunk[:n])
		}
		d.err = err
	}
}
