package text

import (
	"bytes"
	"io"
)

const minRead = 4096

// ReadBuffer accumulates inbound bytes for the decoders. Decoders only
// advance past bytes they fully interpreted; the rest stays for the next fill.
type ReadBuffer struct {
	buf []byte
	r   int
}

func NewReadBuffer(size int) *ReadBuffer {
	if size < minRead {
		size = minRead
	}
	return &ReadBuffer{buf: make([]byte, 0, size)}
}

// Bytes returns the unread bytes.
func (b *ReadBuffer) Bytes() []byte {
	return b.buf[b.r:]
}

func (b *ReadBuffer) Len() int {
	return len(b.buf) - b.r
}

func (b *ReadBuffer) Advance(n int) {
	b.r += n
	if b.r == len(b.buf) {
		b.r = 0
		b.buf = b.buf[:0]
	}
}

// Write appends p to the unread bytes.
func (b *ReadBuffer) Write(p []byte) (int, error) {
	b.compact()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Fill performs a single Read from r into the buffer, growing it if needed.
func (b *ReadBuffer) Fill(r io.Reader) (int, error) {
	b.compact()
	if cap(b.buf)-len(b.buf) < minRead {
		grown := make([]byte, len(b.buf), 2*cap(b.buf)+minRead)
		copy(grown, b.buf)
		b.buf = grown
	}
	n, err := r.Read(b.buf[len(b.buf):cap(b.buf)])
	b.buf = b.buf[:len(b.buf)+n]
	return n, err
}

func (b *ReadBuffer) compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:])
	b.buf = b.buf[:n]
	b.r = 0
}

// line returns the next CRLF terminated line without its terminator, and the
// number of bytes it spans including the terminator. ok is false when no
// complete line is buffered.
func (b *ReadBuffer) line() (line []byte, n int, ok bool) {
	data := b.Bytes()
	i := bytes.Index(data, []byte(crlf))
	if i < 0 {
		return nil, 0, false
	}
	return data[:i], i + 2, true
}
