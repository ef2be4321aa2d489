package testutils

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

const relativeExptimeLimit = 60 * 60 * 24 * 30

type fakeItem struct {
	value    []byte
	flags    uint32
	cas      uint64
	deadline time.Time // zero: never expires
}

func (i *fakeItem) expired(now time.Time) bool {
	return !i.deadline.IsZero() && !now.Before(i.deadline)
}

// FakeServer is an in-memory memcached speaking the text protocol, for tests.
// It can be stopped and restarted on the same address, delay its replies and
// write them in small chunks.
type FakeServer struct {
	mu     sync.Mutex
	items  map[string]*fakeItem
	casSeq uint64
	ln     net.Listener
	conns  map[net.Conn]struct{}
	addr   string

	// Hook runs before each command is executed, with the request line.
	hook atomic.Pointer[func(line string)]

	delay      atomic.Duration
	writeChunk atomic.Int64
	commands   atomic.Int64
	accepted   atomic.Int64

	wg sync.WaitGroup
}

// NewFakeServer starts a fake server on a random local port. It is stopped on test cleanup.
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()

	s := &FakeServer{
		items: make(map[string]*fakeItem),
		conns: make(map[net.Conn]struct{}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start fake memcached: %v", err)
	}
	s.addr = ln.Addr().String()
	s.serve(ln)

	t.Cleanup(s.Stop)
	return s
}

func (s *FakeServer) Addr() string {
	return s.addr
}

func (s *FakeServer) serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted.Inc()
			s.ServeConn(conn)
		}
	}()
}

// ServeConn handles the protocol on conn in a new goroutine.
func (s *FakeServer) ServeConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		s.handle(conn)
	}()
}

// Stop closes the listener and every open connection, like a crashed server.
func (s *FakeServer) Stop() {
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Restart listens again on the original address. The data is kept.
func (s *FakeServer) Restart() error {
	var ln net.Listener
	var err error
	for range 50 {
		ln, err = net.Listen("tcp", s.addr)
		if err == nil {
			s.serve(ln)
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return err
}

// DropConnections closes the open connections but keeps accepting new ones.
func (s *FakeServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *FakeServer) SetDelay(d time.Duration) {
	s.delay.Store(d)
}

// SetWriteChunk makes replies go out in writes of at most n bytes. Zero disables it.
func (s *FakeServer) SetWriteChunk(n int) {
	s.writeChunk.Store(int64(n))
}

func (s *FakeServer) SetHook(fn func(line string)) {
	if fn == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&fn)
}

// Commands is the number of commands processed so far.
func (s *FakeServer) Commands() int64 {
	return s.commands.Load()
}

// Accepted is the number of connections accepted so far.
func (s *FakeServer) Accepted() int64 {
	return s.accepted.Load()
}

// Put stores an item directly, bumping its cas token.
func (s *FakeServer) Put(key string, value []byte, flags uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casSeq++
	s.items[key] = &fakeItem{value: bytes.Clone(value), flags: flags, cas: s.casSeq}
}

// Lookup reads an item directly.
func (s *FakeServer) Lookup(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(it.value), true
}

// Len is the number of live items.
func (s *FakeServer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.items {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}

func (s *FakeServer) live(key string) (*fakeItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return it, true
}

func deadline(exptime int64) time.Time {
	switch {
	case exptime == 0:
		return time.Time{}
	case exptime < 0:
		return time.Now()
	case exptime <= relativeExptimeLimit:
		return time.Now().Add(time.Duration(exptime) * time.Second)
	default:
		return time.Unix(exptime, 0)
	}
}

func (s *FakeServer) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(&chunkWriter{w: conn, size: &s.writeChunk})

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		s.commands.Inc()
		if fn := s.hook.Load(); fn != nil {
			(*fn)(line)
		}
		if d := s.delay.Load(); d > 0 {
			time.Sleep(d)
		}

		if err := s.execute(line, r, w); err != nil {
			return
		}

		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

var errQuit = errors.New("quit")

func (s *FakeServer) execute(line string, r *bufio.Reader, w *bufio.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		_, err := w.WriteString("ERROR\r\n")
		return err
	}

	noreply := fields[len(fields)-1] == "noreply"
	if noreply {
		fields = fields[:len(fields)-1]
	}

	reply := func(s string) error {
		if noreply {
			return nil
		}
		_, err := w.WriteString(s + "\r\n")
		return err
	}

	switch verb := fields[0]; verb {
	case "get", "gets":
		if len(fields) < 2 {
			return reply("ERROR")
		}
		return s.get(w, verb == "gets", fields[1:])

	case "set", "add", "replace", "append", "prepend", "cas":
		want := 5
		if verb == "cas" {
			want = 6
		}
		if len(fields) != want {
			return reply("CLIENT_ERROR bad command line format")
		}
		flags, err1 := strconv.ParseUint(fields[2], 10, 32)
		exptime, err2 := strconv.ParseInt(fields[3], 10, 64)
		size, err3 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil || err3 != nil || size < 0 {
			return reply("CLIENT_ERROR bad command line format")
		}
		data := make([]byte, size+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}
		if !bytes.HasSuffix(data, []byte("\r\n")) {
			if err := reply("CLIENT_ERROR bad data chunk"); err != nil {
				return err
			}
			return errQuit
		}
		var cas uint64
		if verb == "cas" {
			if cas, err1 = strconv.ParseUint(fields[5], 10, 64); err1 != nil {
				return reply("CLIENT_ERROR bad command line format")
			}
		}
		return reply(s.store(verb, fields[1], uint32(flags), exptime, data[:size], cas))

	case "delete":
		if len(fields) < 2 || len(fields) > 3 {
			return reply("ERROR")
		}
		s.mu.Lock()
		_, ok := s.live(fields[1])
		delete(s.items, fields[1])
		s.mu.Unlock()
		if !ok {
			return reply("NOT_FOUND")
		}
		return reply("DELETED")

	case "incr", "decr":
		if len(fields) != 3 {
			return reply("ERROR")
		}
		delta, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return reply("CLIENT_ERROR invalid numeric delta argument")
		}
		return reply(s.arithmetic(verb == "incr", fields[1], delta))

	case "stats":
		s.mu.Lock()
		n := len(s.items)
		s.mu.Unlock()
		fmt.Fprintf(w, "STAT pid %d\r\n", 1)
		fmt.Fprintf(w, "STAT version %s\r\n", "1.6.21-fake")
		fmt.Fprintf(w, "STAT curr_items %d\r\n", n)
		fmt.Fprintf(w, "STAT cmd_total %d\r\n", s.commands.Load())
		_, err := w.WriteString("END\r\n")
		return err

	case "version":
		return reply("VERSION 1.6.21-fake")

	case "flush_all":
		s.mu.Lock()
		s.items = make(map[string]*fakeItem)
		s.mu.Unlock()
		return reply("OK")

	case "verbosity":
		if len(fields) != 2 {
			return reply("ERROR")
		}
		return reply("OK")

	case "quit":
		return errQuit
	}

	return reply("ERROR")
}

func (s *FakeServer) get(w *bufio.Writer, withCAS bool, keys []string) error {
	s.mu.Lock()
	for _, key := range keys {
		it, ok := s.live(key)
		if !ok {
			continue
		}
		if withCAS {
			fmt.Fprintf(w, "VALUE %s %d %d %d\r\n", key, it.flags, len(it.value), it.cas)
		} else {
			fmt.Fprintf(w, "VALUE %s %d %d\r\n", key, it.flags, len(it.value))
		}
		w.Write(it.value)
		w.WriteString("\r\n")
	}
	s.mu.Unlock()

	_, err := w.WriteString("END\r\n")
	return err
}

func (s *FakeServer) store(verb, key string, flags uint32, exptime int64, data []byte, cas uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, exists := s.live(key)
	switch verb {
	case "add":
		if exists {
			return "NOT_STORED"
		}
	case "replace":
		if !exists {
			return "NOT_STORED"
		}
	case "append", "prepend":
		if !exists {
			return "NOT_STORED"
		}
		if verb == "append" {
			data = append(bytes.Clone(it.value), data...)
		} else {
			data = append(bytes.Clone(data), it.value...)
		}
		s.casSeq++
		it.value = data
		it.cas = s.casSeq
		return "STORED"
	case "cas":
		if !exists {
			return "NOT_FOUND"
		}
		if it.cas != cas {
			return "EXISTS"
		}
	}

	s.casSeq++
	s.items[key] = &fakeItem{
		value:    bytes.Clone(data),
		flags:    flags,
		cas:      s.casSeq,
		deadline: deadline(exptime),
	}
	return "STORED"
}

func (s *FakeServer) arithmetic(incr bool, key string, delta uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok {
		return "NOT_FOUND"
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(it.value)), 10, 64)
	if err != nil {
		return "CLIENT_ERROR cannot increment or decrement non-numeric value"
	}
	if incr {
		v += delta
	} else if delta > v {
		v = 0
	} else {
		v -= delta
	}
	s.casSeq++
	it.value = []byte(strconv.FormatUint(v, 10))
	it.cas = s.casSeq
	return strconv.FormatUint(v, 10)
}
