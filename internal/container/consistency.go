// Package container holds the object/segment data model: per-object
// segment maps, the copy-on-write algorithms that operate on them, and
// the per-range consistency tracker that guards concurrent client
// mappings.
package container

import (
	"sync"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

// consistencyRange is one registered client mapping.
type consistencyRange struct {
	tcpClientID uint64
	id          int32
	offset      uint64
	size        uint64
	mode        wire.AccessMode
}

// ConsistencyTracker tracks the ranges clients have registered as
// mapped, enforcing that write ranges are exclusive and that no read
// range overlaps a write range. One tracker lives per Object.
//
// Unlike the rest of this package, ConsistencyTracker takes its own
// lock: it is read and mutated both from the network thread (register/
// unregister hooks) and from the TCP accept goroutine's disconnect
// sweep (§4.6), so it cannot rely on the container's single-threaded
// access guarantee the way segment state can.
type ConsistencyTracker struct {
	mu     sync.Mutex
	ranges []consistencyRange
	nextID int32
}

// NewConsistencyTracker returns a tracker with its id sequence starting
// at 1, matching the source's convention that 0 is never a valid range
// id (it doubles as "off"/"not applicable" in the wire protocol).
func NewConsistencyTracker() *ConsistencyTracker {
	return &ConsistencyTracker{nextID: 1}
}

func overlap(offset1, size1, offset2, size2 uint64) bool {
	if offset1 >= offset2 && offset1 < offset2+size2 {
		return true
	}
	if offset2 >= offset1 && offset2 < offset1+size1 {
		return true
	}
	return false
}

// HasCollision reports whether [offset, offset+size) conflicts with an
// already-registered range: any overlap with a write range, or a write
// request overlapping an existing read range.
func (t *ConsistencyTracker) HasCollision(offset, size uint64, mode wire.AccessMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasCollisionLocked(offset, size, mode)
}

func (t *ConsistencyTracker) hasCollisionLocked(offset, size uint64, mode wire.AccessMode) bool {
	for _, r := range t.ranges {
		if overlap(offset, size, r.offset, r.size) && (mode != r.mode || r.mode == wire.AccessWrite) {
			return true
		}
	}
	return false
}

// RegisterRange assigns a fresh id (>=1) and records the range, or
// returns -1 if it collides with an existing registration.
func (t *ConsistencyTracker) RegisterRange(tcpClientID uint64, offset, size uint64, mode wire.AccessMode) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasCollisionLocked(offset, size, mode) {
		return -1
	}

	id := t.nextID
	t.nextID++
	t.ranges = append(t.ranges, consistencyRange{
		tcpClientID: tcpClientID,
		id:          id,
		offset:      offset,
		size:        size,
		mode:        mode,
	})
	return id
}

// UnregisterRange removes the range identified by the full five-field
// tuple; all fields must match exactly.
func (t *ConsistencyTracker) UnregisterRange(tcpClientID uint64, id int32, offset, size uint64, mode wire.AccessMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, r := range t.ranges {
		if r.tcpClientID == tcpClientID && r.id == id && r.offset == offset && r.size == size && r.mode == mode {
			t.ranges = append(t.ranges[:i], t.ranges[i+1:]...)
			return true
		}
	}
	return false
}

// ClientDisconnect drops every range owned by tcpClientID. nextID is
// never reset or reused, so ids keep increasing strictly across
// disconnects.
func (t *ConsistencyTracker) ClientDisconnect(tcpClientID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.ranges[:0]
	for _, r := range t.ranges {
		if r.tcpClientID != tcpClientID {
			kept = append(kept, r)
		}
	}
	t.ranges = kept
}
