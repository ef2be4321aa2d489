package text

import (
	"bytes"
	"slices"
	"strconv"
)

var (
	lineEnd       = []byte("END")
	prefixValue   = []byte("VALUE ")
	prefixStat    = []byte("STAT ")
	prefixVersion = []byte("VERSION ")
	prefixClient  = []byte("CLIENT_ERROR")
	prefixServer  = []byte("SERVER_ERROR")
)

// Decode consumes the reply to c from rb. It returns false when more bytes
// are needed; rb then still holds everything that was not fully interpreted.
// It returns true once the command is complete, with either a result or an
// error set. Calling Decode again without new bytes is harmless.
func (c *Command) Decode(rb *ReadBuffer) bool {
	switch c.Kind {
	case KindGet, KindGets:
		return c.decodeRetrieval(rb)
	case KindStats:
		return c.decodeStats(rb)
	default:
		return c.decodeLine(rb)
	}
}

// decodeLine handles every command answered by exactly one line.
func (c *Command) decodeLine(rb *ReadBuffer) bool {
	line, n, ok := rb.line()
	if !ok {
		return false
	}
	rb.Advance(n)

	var err error
	switch c.Kind {
	case KindSet, KindAdd, KindReplace, KindAppend, KindPrepend:
		switch string(line) {
		case "STORED":
			c.status = StatusStored
		case "NOT_STORED":
			c.status = StatusNotStored
		default:
			err = c.lineError(line)
		}

	case KindCAS:
		switch string(line) {
		case "STORED":
			c.status = StatusStored
		case "NOT_STORED":
			c.status = StatusNotStored
		case "EXISTS":
			c.status = StatusExists
		case "NOT_FOUND":
			c.status = StatusNotFound
		default:
			err = c.lineError(line)
		}

	case KindDelete:
		switch string(line) {
		case "DELETED":
			c.status = StatusDeleted
		case "NOT_FOUND":
			c.status = StatusNotFound
		default:
			err = c.lineError(line)
		}

	case KindIncr, KindDecr:
		if string(line) == "NOT_FOUND" {
			err = ErrIncrDecrNotFound
			break
		}
		v, perr := strconv.ParseUint(string(bytes.TrimSpace(line)), 10, 64)
		if perr != nil {
			err = c.lineError(line)
			break
		}
		c.counter = v

	case KindVersion:
		if !bytes.HasPrefix(line, prefixVersion) {
			err = c.lineError(line)
			break
		}
		c.version = string(line[len(prefixVersion):])

	case KindFlushAll, KindVerbosity:
		if string(line) != "OK" {
			err = c.lineError(line)
		}

	default:
		err = c.lineError(line)
	}

	c.complete(err)
	return true
}

// decodeRetrieval consumes VALUE blocks one at a time as they become
// complete in rb, then the END line.
func (c *Command) decodeRetrieval(rb *ReadBuffer) bool {
	if c.values == nil {
		c.values = make(map[string]Value, len(c.Keys))
	}

	for {
		line, n, ok := rb.line()
		if !ok {
			return false
		}

		if bytes.Equal(line, lineEnd) {
			rb.Advance(n)
			c.complete(nil)
			return true
		}

		if !bytes.HasPrefix(line, prefixValue) {
			rb.Advance(n)
			c.complete(c.lineError(line))
			return true
		}

		v, size, err := c.parseValueLine(line)
		if err != nil {
			rb.Advance(n)
			c.complete(err)
			return true
		}

		total := n + size + len(crlf)
		if rb.Len() < total {
			return false
		}

		block := rb.Bytes()[:total]
		if !bytes.Equal(block[n+size:], []byte(crlf)) {
			rb.Advance(total)
			c.complete(&ProtocolError{Kind: c.Kind, Line: "data block of " + v.Key + " not terminated by CRLF"})
			return true
		}

		v.Value = bytes.Clone(block[n : n+size])
		rb.Advance(total)
		c.values[v.Key] = v
	}
}

// VALUE <key> <flags> <bytes> [<cas>]
func (c *Command) parseValueLine(line []byte) (Value, int, error) {
	fields := bytes.Fields(line)
	want := 4
	if c.Kind == KindGets {
		want = 5
	}
	if len(fields) != want {
		return Value{}, 0, &ProtocolError{Kind: c.Kind, Line: string(line)}
	}

	key := string(fields[1])
	if !c.requested(key) {
		return Value{}, 0, &ProtocolError{Kind: c.Kind, Line: string(line)}
	}

	flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return Value{}, 0, &ProtocolError{Kind: c.Kind, Line: string(line)}
	}
	size, err := strconv.Atoi(string(fields[3]))
	if err != nil || size < 0 {
		return Value{}, 0, &ProtocolError{Kind: c.Kind, Line: string(line)}
	}

	v := Value{Key: key, Flags: uint32(flags)}
	if c.Kind == KindGets {
		v.CAS, err = strconv.ParseUint(string(fields[4]), 10, 64)
		if err != nil {
			return Value{}, 0, &ProtocolError{Kind: c.Kind, Line: string(line)}
		}
	}
	return v, size, nil
}

func (c *Command) requested(key string) bool {
	return slices.Contains(c.Keys, key)
}

// decodeStats consumes STAT lines up to END.
func (c *Command) decodeStats(rb *ReadBuffer) bool {
	if c.stats == nil {
		c.stats = make(map[string]string)
	}

	for {
		line, n, ok := rb.line()
		if !ok {
			return false
		}
		rb.Advance(n)

		if bytes.Equal(line, lineEnd) {
			c.complete(nil)
			return true
		}

		if !bytes.HasPrefix(line, prefixStat) {
			c.complete(c.lineError(line))
			return true
		}

		name, value, _ := bytes.Cut(line[len(prefixStat):], []byte(" "))
		c.stats[string(name)] = string(value)
	}
}

// lineError maps an unexpected reply line to its error.
func (c *Command) lineError(line []byte) error {
	switch {
	case string(line) == "ERROR":
		return &UnknownCommandError{}
	case bytes.HasPrefix(line, prefixClient):
		return &ClientError{Message: string(bytes.TrimSpace(line[len(prefixClient):]))}
	case bytes.HasPrefix(line, prefixServer):
		return &ServerError{Message: string(bytes.TrimSpace(line[len(prefixServer):]))}
	}
	return &ProtocolError{Kind: c.Kind, Line: string(line)}
}
