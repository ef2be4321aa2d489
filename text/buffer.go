package text

import (
	"bytes"

	"github.com/pior/xmemcache/internal"
)

// BufferAllocator supplies the buffers commands encode into.
// Release is called once the bytes were written (or the command was dropped).
type BufferAllocator interface {
	Allocate(sizeHint int) *bytes.Buffer
	Release(buf *bytes.Buffer)
}

type poolAllocator struct {
	pool *internal.BufferPool
}

// NewPoolAllocator returns a BufferAllocator backed by a sync.Pool.
func NewPoolAllocator(initialSize int) BufferAllocator {
	return &poolAllocator{pool: internal.NewBufferPool(initialSize)}
}

// DefaultAllocator is shared by factories built without an allocator.
var DefaultAllocator = NewPoolAllocator(512)

func (a *poolAllocator) Allocate(sizeHint int) *bytes.Buffer {
	buf := a.pool.Get()
	buf.Grow(sizeHint)
	return buf
}

func (a *poolAllocator) Release(buf *bytes.Buffer) {
	a.pool.Put(buf)
}
