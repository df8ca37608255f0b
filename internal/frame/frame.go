// Package frame implements length-delimited framing for the internal
// request/response envelope: each envelope is prefixed with a 4-byte
// big-endian length, and a partial frame read is buffered and resumed
// on the next chunk rather than dropped or duplicated.
package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame so a corrupt or hostile
// length prefix can't force an unbounded allocation.
const DefaultMaxFrameBytes = 512 << 20 // 512 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// the configured maximum.
type ErrFrameTooLarge struct {
	Size uint32
	Max  uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame: declared size %d exceeds max %d", e.Size, e.Max)
}

// Framer reads and writes length-delimited frames over a stream. It
// wraps a bufio.Reader so a short read leaves the partial frame
// sitting in the buffer rather than requiring the caller to track
// it.
type Framer struct {
	r            *bufio.Reader
	w            io.Writer
	maxFrameSize uint32
}

// New returns a Framer over rw using the default max frame size.
func New(rw io.ReadWriter) *Framer {
	return &Framer{
		r:            bufio.NewReaderSize(rw, 64<<10),
		w:            rw,
		maxFrameSize: DefaultMaxFrameBytes,
	}
}

// WithMaxFrameSize overrides the maximum accepted frame size.
func (f *Framer) WithMaxFrameSize(max uint32) *Framer {
	f.maxFrameSize = max
	return f
}

// ReadFrame blocks until one full frame has been read, or returns the
// error from the underlying reader (including io.EOF on clean close).
// A frame split across multiple TCP segments is transparently
// reassembled by the underlying bufio.Reader's internal buffering;
// ReadFrame itself never returns a partial frame.
func (f *Framer) ReadFrame() ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(f.r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size > f.maxFrameSize {
		return nil, &ErrFrameTooLarge{Size: size, Max: f.maxFrameSize}
	}
	body := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(f.r, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame. Concurrent calls are
// not synchronized here — the caller (internal/dispatch's Gateway,
// under its write mutex) owns serializing writes to a single
// connection.
func (f *Framer) WriteFrame(payload []byte) error {
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := f.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := f.w.Write(payload)
	return err
}

// WriteFrames writes several frames as one batched write, coalescing
// small per-request writes into a single syscall.
func (f *Framer) WriteFrames(payloads [][]byte) error {
	total := 0
	for _, p := range payloads {
		total += 4 + len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range payloads {
		var sizeBuf [4]byte
		binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(p)))
		buf = append(buf, sizeBuf[:]...)
		buf = append(buf, p...)
	}
	_, err := f.w.Write(buf)
	return err
}
