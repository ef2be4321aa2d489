package testutils

import (
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// chunkWriter splits every write into pieces of at most size bytes.
type chunkWriter struct {
	w    io.Writer
	size *atomic.Int64
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	n := int(c.size.Load())
	if n <= 0 {
		return c.w.Write(p)
	}

	written := 0
	for written < len(p) {
		end := min(written+n, len(p))
		m, err := c.w.Write(p[written:end])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ChunkedConn wraps a net.Conn so that reads return at most ReadChunk bytes.
// Used to make the client see replies split at arbitrary points.
type ChunkedConn struct {
	net.Conn
	ReadChunk int

	written atomic.Int64
	closed  atomic.Bool
}

func NewChunkedConn(conn net.Conn, readChunk int) *ChunkedConn {
	return &ChunkedConn{Conn: conn, ReadChunk: readChunk}
}

func (c *ChunkedConn) Read(b []byte) (int, error) {
	if c.ReadChunk > 0 && len(b) > c.ReadChunk {
		b = b[:c.ReadChunk]
	}
	return c.Conn.Read(b)
}

func (c *ChunkedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.written.Add(int64(n))
	return n, err
}

func (c *ChunkedConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

// BytesWritten is the number of request bytes sent so far.
func (c *ChunkedConn) BytesWritten() int64 {
	return c.written.Load()
}

func (c *ChunkedConn) Closed() bool {
	return c.closed.Load()
}

// Pipe returns a client side conn connected to a fake server handling the
// other end, with reads limited to readChunk bytes.
func Pipe(s *FakeServer, readChunk int) *ChunkedConn {
	client, server := net.Pipe()
	s.ServeConn(server)
	return NewChunkedConn(client, readChunk)
}

// BlackholeConn accepts writes and never answers, until closed.
type BlackholeConn struct {
	net.Conn
	done chan struct{}
	once sync.Once
}

func NewBlackholeConn() *BlackholeConn {
	client, _ := net.Pipe()
	return &BlackholeConn{Conn: client, done: make(chan struct{})}
}

func (c *BlackholeConn) Read(b []byte) (int, error) {
	<-c.done
	return 0, io.EOF
}

func (c *BlackholeConn) Write(b []byte) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
		return len(b), nil
	}
}

func (c *BlackholeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *BlackholeConn) SetDeadline(t time.Time) error      { return nil }
func (c *BlackholeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *BlackholeConn) SetWriteDeadline(t time.Time) error { return nil }
