package text

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Kind is the closed set of text protocol commands.
type Kind uint8

const (
	KindGet Kind = iota
	KindGets
	KindSet
	KindAdd
	KindReplace
	KindAppend
	KindPrepend
	KindCAS
	KindDelete
	KindIncr
	KindDecr
	KindStats
	KindVersion
	KindFlushAll
	KindVerbosity
)

var kindVerbs = [...]string{
	KindGet:       "get",
	KindGets:      "gets",
	KindSet:       "set",
	KindAdd:       "add",
	KindReplace:   "replace",
	KindAppend:    "append",
	KindPrepend:   "prepend",
	KindCAS:       "cas",
	KindDelete:    "delete",
	KindIncr:      "incr",
	KindDecr:      "decr",
	KindStats:     "stats",
	KindVersion:   "version",
	KindFlushAll:  "flush_all",
	KindVerbosity: "verbosity",
}

// String returns the protocol verb.
func (k Kind) String() string {
	if int(k) < len(kindVerbs) {
		return kindVerbs[k]
	}
	return "unknown"
}

// IsStorage reports whether the kind carries a data block.
func (k Kind) IsStorage() bool {
	switch k {
	case KindSet, KindAdd, KindReplace, KindAppend, KindPrepend, KindCAS:
		return true
	}
	return false
}

// Status is the reply line of store, cas and delete commands.
type Status uint8

const (
	StatusNone Status = iota
	StatusStored
	StatusNotStored
	StatusExists
	StatusNotFound
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusStored:
		return "STORED"
	case StatusNotStored:
		return "NOT_STORED"
	case StatusExists:
		return "EXISTS"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDeleted:
		return "DELETED"
	}
	return "NONE"
}

// Value is one VALUE block of a get or gets reply.
type Value struct {
	Key   string
	Value []byte
	Flags uint32
	CAS   uint64 // zero for plain get
}

// Command is a unit of protocol work. It is built by a Factory, encoded once,
// decoded incrementally by the session reader and completed exactly once.
//
// The result fields are only meaningful after Done is closed and Err is nil.
type Command struct {
	Kind    Kind
	Keys    []string // get/gets keys, or the single key of keyed commands
	Value   []byte
	Flags   uint32
	Exptime int32
	CAS     uint64
	Delta   uint64
	Arg     string // stats item
	Number  int    // flush_all delay, verbosity level
	NoReply bool

	alloc BufferAllocator
	buf   *bytes.Buffer

	// decode results
	status  Status
	values  map[string]Value
	counter uint64
	stats   map[string]string
	version string

	err      error
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool
	written  atomic.Bool
}

func newCommand(kind Kind, alloc BufferAllocator) *Command {
	return &Command{
		Kind:  kind,
		alloc: alloc,
		done:  make(chan struct{}),
	}
}

// Key returns the first key of the command, empty for server-wide commands.
func (c *Command) Key() string {
	if len(c.Keys) == 0 {
		return ""
	}
	return c.Keys[0]
}

// ExpectsReply reports whether the command waits for a response on the wire.
func (c *Command) ExpectsReply() bool {
	return !c.NoReply
}

// Done is closed when the command completes.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Err returns the completion error. Only valid after Done is closed.
func (c *Command) Err() error {
	return c.err
}

// Wait blocks until the command completes or ctx is done.
// When ctx ends first the command is canceled and ctx.Err() is returned.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	default:
	}

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		c.Cancel()
		return ctx.Err()
	}
}

// Cancel marks the command as abandoned by its caller. A command that was not
// written yet is skipped by the session writer. A command already on the wire
// still has its reply decoded, and the result is dropped.
func (c *Command) Cancel() {
	c.canceled.Store(true)
}

func (c *Command) Canceled() bool {
	return c.canceled.Load()
}

// MarkWritten records that the bytes were handed to the socket.
func (c *Command) MarkWritten() {
	c.written.Store(true)
}

func (c *Command) Written() bool {
	return c.written.Load()
}

// Fail completes the command with err. Returns false if it was already complete.
func (c *Command) Fail(err error) bool {
	return c.complete(err)
}

// Finish completes a no-reply command after transmission.
func (c *Command) Finish() bool {
	switch c.Kind {
	case KindSet, KindAdd, KindReplace, KindAppend, KindPrepend, KindCAS:
		c.status = StatusStored
	case KindDelete:
		c.status = StatusDeleted
	}
	return c.complete(nil)
}

func (c *Command) complete(err error) bool {
	completed := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		completed = true
	})
	return completed
}

// Status is the reply of store, cas and delete commands.
func (c *Command) Status() Status {
	return c.status
}

// Succeeded is true for STORED and DELETED replies, and for completed no-reply commands.
func (c *Command) Succeeded() bool {
	return c.status == StatusStored || c.status == StatusDeleted
}

// Values returns the hits of a get or gets command, keyed by key.
func (c *Command) Values() map[string]Value {
	return c.values
}

// Counter is the new value after incr/decr.
func (c *Command) Counter() uint64 {
	return c.counter
}

// Stats returns the STAT lines of a stats command.
func (c *Command) Stats() map[string]string {
	return c.stats
}

// Version returns the server version string.
func (c *Command) Version() string {
	return c.version
}
