package xmemcache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pior/xmemcache/internal/coarsetime"
	"github.com/pior/xmemcache/text"
)

const writeBufferSize = 16 << 10

var errUnsolicited = errors.New("memcache: unsolicited bytes from server")

type sessionOptions struct {
	addr           string
	readBufferSize int
	logger         *zap.Logger
	onClose        func(s *session, cause error)
}

// session is one connection to one server. Commands are written in the order
// they are sent and their replies are matched in the same order: the writer
// pushes each command onto the in-flight deque before its bytes reach the
// socket, and the reader decodes against the oldest one.
type session struct {
	addr    string
	conn    net.Conn
	logger  *zap.Logger
	onClose func(s *session, cause error)

	mu       sync.Mutex
	queue    []*text.Command              // waiting for the writer
	inflight *deque.Deque[*text.Command] // written, newest at the front
	current  *text.Command               // being decoded by the reader
	closed   bool

	wake       chan struct{}
	closing    chan struct{}
	done       sync.WaitGroup
	lastActive atomic.Int64
	created    time.Time
}

func newSession(conn net.Conn, opts sessionOptions) *session {
	s := &session{
		addr:     opts.addr,
		conn:     conn,
		logger:   opts.logger,
		onClose:  opts.onClose,
		inflight: deque.NewDeque[*text.Command](),
		wake:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
		created:  time.Now(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.touch()

	s.done.Add(2)
	go s.writeLoop()
	go s.readLoop(opts.readBufferSize)
	return s
}

// send queues cmd for writing. It does not wait for the reply.
func (s *session) send(cmd *text.Command) error {
	cmd.Encode()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cmd.Release()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// pending is the number of commands queued or awaiting their reply.
func (s *session) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue) + s.inflight.Len()
	if s.current != nil {
		n++
	}
	return n
}

func (s *session) touch() {
	s.lastActive.Store(coarsetime.Now().UnixNano())
}

func (s *session) idle() time.Duration {
	return coarsetime.Since(time.Unix(0, s.lastActive.Load()))
}

func (s *session) writeLoop() {
	defer s.done.Done()

	w := bufio.NewWriterSize(s.conn, writeBufferSize)
	var batch []*text.Command

	for {
		select {
		case <-s.wake:
		case <-s.closing:
			return
		}

		for {
			s.mu.Lock()
			batch, s.queue = s.queue, batch[:0]
			s.mu.Unlock()

			if len(batch) == 0 {
				break
			}

			if err := s.writeBatch(w, batch); err != nil {
				s.shutdown(err)
				failAll(batch, s.lostError(err))
				releaseAll(batch)
				return
			}
			releaseAll(batch)
			clear(batch)
		}
	}
}

func (s *session) writeBatch(w *bufio.Writer, batch []*text.Command) error {
	for _, cmd := range batch {
		if cmd.Canceled() {
			cmd.Fail(ErrCanceled)
			continue
		}

		if cmd.ExpectsReply() {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return ErrSessionClosed
			}
			s.inflight.PushFront(cmd)
			s.mu.Unlock()
		}

		if _, err := w.Write(cmd.Bytes()); err != nil {
			return err
		}
		cmd.MarkWritten()
	}

	if err := w.Flush(); err != nil {
		return err
	}
	s.touch()

	for _, cmd := range batch {
		if !cmd.ExpectsReply() && cmd.Written() {
			cmd.Finish()
		}
	}
	return nil
}

func (s *session) readLoop(bufferSize int) {
	defer s.done.Done()

	rb := text.NewReadBuffer(bufferSize)
	for {
		n, err := rb.Fill(s.conn)
		if n > 0 {
			s.touch()
			if derr := s.dispatch(rb); derr != nil {
				s.shutdown(derr)
				return
			}
		}
		if err != nil {
			s.shutdown(err)
			return
		}
	}
}

// dispatch decodes as many replies as rb holds, oldest command first.
func (s *session) dispatch(rb *text.ReadBuffer) error {
	for rb.Len() > 0 {
		s.mu.Lock()
		if s.current == nil {
			if s.inflight.Len() == 0 {
				s.mu.Unlock()
				return fmt.Errorf("%w: %q", errUnsolicited, truncate(rb.Bytes(), 64))
			}
			s.current = s.inflight.PopBack()
		}
		cmd := s.current
		s.mu.Unlock()

		if !cmd.Decode(rb) {
			return nil
		}

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()

		if err := cmd.Err(); text.ShouldCloseConnection(err) {
			return err
		}
	}
	return nil
}

// close shuts the session down, failing everything in flight.
func (s *session) close() {
	s.shutdown(ErrSessionClosed)
}

func (s *session) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	queued := s.queue
	s.queue = nil
	var waiting []*text.Command
	if s.current != nil {
		waiting = append(waiting, s.current)
		s.current = nil
	}
	for s.inflight.Len() > 0 {
		waiting = append(waiting, s.inflight.PopBack())
	}
	s.mu.Unlock()

	close(s.closing)
	_ = s.conn.Close()

	if errors.Is(cause, io.EOF) || errors.Is(cause, net.ErrClosed) {
		s.logger.Info("connection closed", zap.String("addr", s.addr), zap.Error(cause))
	} else if !errors.Is(cause, ErrSessionClosed) {
		s.logger.Warn("connection broken", zap.String("addr", s.addr), zap.Error(cause))
	}

	lost := s.lostError(cause)
	failAll(waiting, lost)
	failAll(queued, lost)
	releaseAll(queued)

	if s.onClose != nil {
		s.onClose(s, cause)
	}
}

func (s *session) lostError(cause error) error {
	if errors.Is(cause, ErrSessionClosed) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionLost, s.addr, ErrSessionClosed)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectionLost, s.addr, cause)
}

// wait blocks until both loops exited.
func (s *session) wait() {
	s.done.Wait()
}

func failAll(cmds []*text.Command, err error) {
	for _, cmd := range cmds {
		cmd.Fail(err)
	}
}

func releaseAll(cmds []*text.Command) {
	for _, cmd := range cmds {
		cmd.Release()
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
