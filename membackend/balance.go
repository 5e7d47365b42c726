package membackend

import (
	"fmt"
	"sync"
)

// Balance dispatches allocations across a set of child backends,
// always picking the one currently holding the fewest bytes. This is
// how a server spreads segments across several nvdimm mount points.
type Balance struct {
	mu          sync.Mutex
	backends    []Backend
	ownerOfAddr map[*byte]int
}

// NewBalance creates a balancer with no children; call Register to add
// backends before the first Allocate.
func NewBalance() *Balance {
	return &Balance{ownerOfAddr: make(map[*byte]int)}
}

// Register adds a child backend to the balancer's rotation.
func (b *Balance) Register(backend Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backends = append(b.backends, backend)
}

func (b *Balance) Allocate(size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.backends) == 0 {
		return nil, fmt.Errorf("membackend: balance has no registered backends")
	}

	id := 0
	min := b.backends[0].UsedBytes()
	for i := 1; i < len(b.backends); i++ {
		if u := b.backends[i].UsedBytes(); u < min {
			id, min = i, u
		}
	}

	buf, err := b.backends[id].Allocate(size)
	if err != nil {
		return nil, err
	}
	b.ownerOfAddr[&buf[0]] = id
	return buf, nil
}

func (b *Balance) Deallocate(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(buf) == 0 {
		return
	}
	key := &buf[0]
	id, ok := b.ownerOfAddr[key]
	if !ok {
		return
	}
	delete(b.ownerOfAddr, key)
	b.backends[id].Deallocate(buf)
}

func (b *Balance) UsedBytes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint64
	for _, backend := range b.backends {
		total += backend.UsedBytes()
	}
	return total
}

var _ Backend = (*Balance)(nil)
