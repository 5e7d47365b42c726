package membackend

import "sync/atomic"

// Malloc is the simplest backend: every allocation is a fresh Go heap
// slice, released to the garbage collector on Deallocate. It has no
// nvdimm-style registration step since RDMA memory registration happens
// one layer up, in the connection layer, once a segment is handed to it.
type Malloc struct {
	used atomic.Uint64
}

// NewMalloc creates a heap-backed memory backend.
func NewMalloc() *Malloc {
	return &Malloc{}
}

func (m *Malloc) Allocate(size uint64) ([]byte, error) {
	buf := make([]byte, size)
	m.used.Add(size)
	return buf, nil
}

func (m *Malloc) Deallocate(buf []byte) {
	m.used.Add(-uint64(len(buf)))
}

func (m *Malloc) UsedBytes() uint64 {
	return m.used.Load()
}

var _ Backend = (*Malloc)(nil)
