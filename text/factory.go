package text

import (
	"fmt"
)

// DefaultMaxValueSize matches memcached's default item size limit (-I 1m).
const DefaultMaxValueSize = 1 << 20

// Factory builds commands. Every constructor validates its arguments first
// and does no I/O.
type Factory struct {
	alloc        BufferAllocator
	maxValueSize int
}

// NewFactory returns a factory encoding into buffers from alloc.
// A nil alloc uses DefaultAllocator; maxValueSize <= 0 uses DefaultMaxValueSize.
func NewFactory(alloc BufferAllocator, maxValueSize int) *Factory {
	if alloc == nil {
		alloc = DefaultAllocator
	}
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &Factory{alloc: alloc, maxValueSize: maxValueSize}
}

func (f *Factory) Get(key string) (*Command, error) {
	return f.retrieval(KindGet, []string{key})
}

func (f *Factory) Gets(key string) (*Command, error) {
	return f.retrieval(KindGets, []string{key})
}

// GetMulti builds one get line for all keys. Duplicate keys are sent once.
func (f *Factory) GetMulti(keys []string) (*Command, error) {
	return f.retrieval(KindGet, keys)
}

func (f *Factory) GetsMulti(keys []string) (*Command, error) {
	return f.retrieval(KindGets, keys)
}

func (f *Factory) retrieval(kind Kind, keys []string) (*Command, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrInvalidKey)
	}

	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if err := ValidateKey(k); err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	c := newCommand(kind, f.alloc)
	c.Keys = unique
	return c, nil
}

// Store builds set, add, replace, append or prepend.
func (f *Factory) Store(kind Kind, key string, flags uint32, exptime int32, value []byte, noReply bool) (*Command, error) {
	switch kind {
	case KindSet, KindAdd, KindReplace, KindAppend, KindPrepend:
	default:
		return nil, fmt.Errorf("%w: %s is not a storage command", ErrInvalidArgument, kind)
	}
	if err := f.validateStorage(key, value); err != nil {
		return nil, err
	}

	c := newCommand(kind, f.alloc)
	c.Keys = []string{key}
	c.Flags = flags
	c.Exptime = exptime
	c.Value = value
	c.NoReply = noReply
	return c, nil
}

func (f *Factory) CAS(key string, flags uint32, exptime int32, value []byte, cas uint64, noReply bool) (*Command, error) {
	if err := f.validateStorage(key, value); err != nil {
		return nil, err
	}

	c := newCommand(KindCAS, f.alloc)
	c.Keys = []string{key}
	c.Flags = flags
	c.Exptime = exptime
	c.Value = value
	c.CAS = cas
	c.NoReply = noReply
	return c, nil
}

func (f *Factory) validateStorage(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if len(value) > f.maxValueSize {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrValueTooLarge, len(value), f.maxValueSize)
	}
	return nil
}

func (f *Factory) Delete(key string, exptime int32, noReply bool) (*Command, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	c := newCommand(KindDelete, f.alloc)
	c.Keys = []string{key}
	c.Exptime = exptime
	c.NoReply = noReply
	return c, nil
}

// IncrDecr builds incr or decr.
func (f *Factory) IncrDecr(kind Kind, key string, delta uint64, noReply bool) (*Command, error) {
	if kind != KindIncr && kind != KindDecr {
		return nil, fmt.Errorf("%w: %s is not an arithmetic command", ErrInvalidArgument, kind)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	c := newCommand(kind, f.alloc)
	c.Keys = []string{key}
	c.Delta = delta
	c.NoReply = noReply
	return c, nil
}

// Stats builds "stats" or "stats <item>" (items, slabs, sizes, ...).
func (f *Factory) Stats(item string) (*Command, error) {
	for i := 0; i < len(item); i++ {
		if b := item[i]; b < ' ' || b == 0x7f {
			return nil, fmt.Errorf("%w: stats item %q", ErrInvalidArgument, item)
		}
	}

	c := newCommand(KindStats, f.alloc)
	c.Arg = item
	return c, nil
}

func (f *Factory) Version() *Command {
	return newCommand(KindVersion, f.alloc)
}

func (f *Factory) FlushAll(delay int, noReply bool) (*Command, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: negative flush_all delay %d", ErrInvalidArgument, delay)
	}

	c := newCommand(KindFlushAll, f.alloc)
	c.Number = delay
	c.NoReply = noReply
	return c, nil
}

func (f *Factory) Verbosity(level int, noReply bool) (*Command, error) {
	if level < 0 {
		return nil, fmt.Errorf("%w: negative verbosity level %d", ErrInvalidArgument, level)
	}

	c := newCommand(KindVerbosity, f.alloc)
	c.Number = level
	c.NoReply = noReply
	return c, nil
}
