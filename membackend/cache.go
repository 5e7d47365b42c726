package membackend

import "sync"

// Cache decorates a child backend with a size-bucketed free list, so
// that releasing and re-requesting a same-size range never touches the
// child backend at all. This is what makes NvdimmFile's grow-only
// strategy usable in steady state.
type Cache struct {
	mu        sync.Mutex
	backend   Backend
	freeLists map[uint64][][]byte
	used      uint64
}

// NewCache wraps backend with a free-list cache.
func NewCache(backend Backend) *Cache {
	return &Cache{
		backend:   backend,
		freeLists: make(map[uint64][][]byte),
	}
}

func (c *Cache) Allocate(size uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.freeLists[size]
	if len(list) > 0 {
		buf := list[len(list)-1]
		c.freeLists[size] = list[:len(list)-1]
		c.used += size
		return buf, nil
	}

	buf, err := c.backend.Allocate(size)
	if err != nil {
		return nil, err
	}
	c.used += size
	return buf, nil
}

func (c *Cache) Deallocate(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(len(buf))
	c.freeLists[size] = append(c.freeLists[size], buf)
	c.used -= size
}

func (c *Cache) UsedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Close releases every cached range back to the underlying backend.
// Call once the server is shutting down, after every segment referencing
// this cache's memory has been released.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.freeLists {
		for _, buf := range list {
			c.backend.Deallocate(buf)
		}
	}
	c.freeLists = make(map[uint64][][]byte)
}

var _ Backend = (*Cache)(nil)
