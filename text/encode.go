package text

import (
	"bytes"
	"strconv"
)

const crlf = "\r\n"

// Encode writes the wire form of the command into a buffer from its allocator.
// Encoding an already encoded command is a no-op.
func (c *Command) Encode() {
	if c.buf != nil {
		return
	}

	buf := c.alloc.Allocate(c.sizeHint())
	switch c.Kind {
	case KindGet, KindGets:
		encodeRetrieval(buf, c)
	case KindSet, KindAdd, KindReplace, KindAppend, KindPrepend, KindCAS:
		encodeStorage(buf, c)
	case KindDelete:
		encodeDelete(buf, c)
	case KindIncr, KindDecr:
		encodeArithmetic(buf, c)
	case KindStats:
		encodeStats(buf, c)
	case KindVersion:
		buf.WriteString("version")
		buf.WriteString(crlf)
	case KindFlushAll:
		encodeFlushAll(buf, c)
	case KindVerbosity:
		encodeVerbosity(buf, c)
	}
	c.buf = buf
}

// Bytes returns the encoded request. Encode must have been called.
func (c *Command) Bytes() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf.Bytes()
}

// Release hands the encoded buffer back to the allocator.
func (c *Command) Release() {
	if c.buf == nil {
		return
	}
	c.alloc.Release(c.buf)
	c.buf = nil
}

func (c *Command) sizeHint() int {
	n := 32 + len(c.Value) + len(c.Arg)
	for _, k := range c.Keys {
		n += len(k) + 1
	}
	return n
}

func writeUint(buf *bytes.Buffer, v uint64) {
	var scratch [20]byte
	buf.Write(strconv.AppendUint(scratch[:0], v, 10))
}

func writeInt(buf *bytes.Buffer, v int64) {
	var scratch [20]byte
	buf.Write(strconv.AppendInt(scratch[:0], v, 10))
}

func writeNoReply(buf *bytes.Buffer, noReply bool) {
	if noReply {
		buf.WriteString(" noreply")
	}
}

// get <k1> [k2 ...]\r\n
func encodeRetrieval(buf *bytes.Buffer, c *Command) {
	buf.WriteString(c.Kind.String())
	for _, k := range c.Keys {
		buf.WriteByte(' ')
		buf.WriteString(k)
	}
	buf.WriteString(crlf)
}

// <verb> <key> <flags> <exptime> <bytes> [<cas>] [noreply]\r\n<data>\r\n
func encodeStorage(buf *bytes.Buffer, c *Command) {
	buf.WriteString(c.Kind.String())
	buf.WriteByte(' ')
	buf.WriteString(c.Key())
	buf.WriteByte(' ')
	writeUint(buf, uint64(c.Flags))
	buf.WriteByte(' ')
	writeInt(buf, int64(c.Exptime))
	buf.WriteByte(' ')
	writeUint(buf, uint64(len(c.Value)))
	if c.Kind == KindCAS {
		buf.WriteByte(' ')
		writeUint(buf, c.CAS)
	}
	writeNoReply(buf, c.NoReply)
	buf.WriteString(crlf)
	buf.Write(c.Value)
	buf.WriteString(crlf)
}

// delete <key> [<exptime>] [noreply]\r\n
func encodeDelete(buf *bytes.Buffer, c *Command) {
	buf.WriteString("delete ")
	buf.WriteString(c.Key())
	if c.Exptime != 0 {
		buf.WriteByte(' ')
		writeInt(buf, int64(c.Exptime))
	}
	writeNoReply(buf, c.NoReply)
	buf.WriteString(crlf)
}

// incr|decr <key> <delta> [noreply]\r\n
func encodeArithmetic(buf *bytes.Buffer, c *Command) {
	buf.WriteString(c.Kind.String())
	buf.WriteByte(' ')
	buf.WriteString(c.Key())
	buf.WriteByte(' ')
	writeUint(buf, c.Delta)
	writeNoReply(buf, c.NoReply)
	buf.WriteString(crlf)
}

// stats [<item>]\r\n
func encodeStats(buf *bytes.Buffer, c *Command) {
	buf.WriteString("stats")
	if c.Arg != "" {
		buf.WriteByte(' ')
		buf.WriteString(c.Arg)
	}
	buf.WriteString(crlf)
}

// flush_all [<delay>] [noreply]\r\n
func encodeFlushAll(buf *bytes.Buffer, c *Command) {
	buf.WriteString("flush_all")
	if c.Number > 0 {
		buf.WriteByte(' ')
		writeInt(buf, int64(c.Number))
	}
	writeNoReply(buf, c.NoReply)
	buf.WriteString(crlf)
}

// verbosity <level> [noreply]\r\n
func encodeVerbosity(buf *bytes.Buffer, c *Command) {
	buf.WriteString("verbosity ")
	writeInt(buf, int64(c.Number))
	writeNoReply(buf, c.NoReply)
	buf.WriteString(crlf)
}
