package conn

import "fmt"

// ReceiveBuffer is one slot of the connection's fixed, pre-posted
// receive-buffer array (§4.3). Its id is the stable handle callers pass
// to Repost once they are done reading any slice borrowed from
// it.
type ReceiveBuffer struct {
	ID   int
	Buf  []byte
	busy bool
}

// ReceiveBufferPool is the fixed array of pre-posted receive buffers a
// connection reposts as each is consumed; the free list is a stack, so
// Acquire hands out the most recently reposted buffer first. Unlike
// ehrlich-b-go-ublk's internal/queue/pool.go (a sync.Pool per size
// class, grown and shrunk on demand), this array is fixed-size and
// pre-allocated at construction: the provider needs every slot posted
// up front so an inbound send always lands somewhere.
type ReceiveBufferPool struct {
	buffers []*ReceiveBuffer
	free    []int
}

// NewReceiveBufferPool allocates count buffers of size bytes each.
func NewReceiveBufferPool(count, size int) *ReceiveBufferPool {
	p := &ReceiveBufferPool{
		buffers: make([]*ReceiveBuffer, count),
		free:    make([]int, 0, count),
	}
	for i := 0; i < count; i++ {
		p.buffers[i] = &ReceiveBuffer{ID: i, Buf: make([]byte, size)}
		p.free = append(p.free, i)
	}
	return p
}

// Acquire hands out the next free buffer for posting. Returns false if
// every buffer is currently owned by an in-flight receive.
func (p *ReceiveBufferPool) Acquire() (*ReceiveBuffer, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	buf := p.buffers[id]
	buf.busy = true
	return buf, true
}

// Repost returns buffer id to the free list. Must be called exactly
// once per Acquire, after the consumer is done with any slice borrowed
// from it (§4.3 postReceives/repostReceive).
func (p *ReceiveBufferPool) Repost(id int) error {
	if id < 0 || id >= len(p.buffers) {
		return fmt.Errorf("conn: repost: buffer id %d out of range", id)
	}
	buf := p.buffers[id]
	if !buf.busy {
		return fmt.Errorf("conn: repost: buffer %d was not acquired", id)
	}
	buf.busy = false
	p.free = append(p.free, id)
	return nil
}

// Get returns buffer id without changing its ownership state, for
// reading back a completed receive.
func (p *ReceiveBufferPool) Get(id int) *ReceiveBuffer {
	if id < 0 || id >= len(p.buffers) {
		return nil
	}
	return p.buffers[id]
}

// Len reports the configured buffer count.
func (p *ReceiveBufferPool) Len() int { return len(p.buffers) }
