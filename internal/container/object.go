package container

import (
	"fmt"
	"sort"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/interfaces"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

// ObjectSegmentMemory is the reference-counted memory handle behind one
// or more ObjectSegments. Two segments (typically in different objects
// after a copy-on-write) share one handle until a write-intent access
// materializes a private copy; the handle returns its buffer to the
// memory backend only once the last reference is released.
type ObjectSegmentMemory struct {
	buf      []byte
	backend  membackend.Backend
	refcount int32
}

func newObjectSegmentMemory(buf []byte, backend membackend.Backend) *ObjectSegmentMemory {
	return &ObjectSegmentMemory{buf: buf, backend: backend, refcount: 1}
}

func (m *ObjectSegmentMemory) retain() {
	m.refcount++
}

// release drops one reference, freeing the buffer back to its backend
// once the count reaches zero. Never called concurrently: segment
// mutation happens only on the container's single network thread.
func (m *ObjectSegmentMemory) release() {
	m.refcount--
	if m.refcount <= 0 {
		m.backend.Deallocate(m.buf)
	}
}

// ObjectSegment is one contiguous, non-overlapping span of an object's
// address space backed by memory. memOffset/size describe a window
// into the shared memory handle rather than always spanning it whole,
// so a range copy-on-write can trim the surviving remainder of a
// segment it partially aliases without reallocating or copying it.
type ObjectSegment struct {
	offset    uint64
	memOffset uint64
	size      uint64
	memory    *ObjectSegmentMemory
	dirty     bool
}

// Offset returns the segment's base offset within its object.
func (s *ObjectSegment) Offset() uint64 { return s.offset }

// Size returns the segment's length in bytes.
func (s *ObjectSegment) Size() uint64 { return s.size }

// Buffer returns the segment's backing bytes. The caller must not
// retain it past the next mutation of the owning Object: a write-intent
// getBuffers call may materialize a fresh buffer out from under an
// aliased segment.
func (s *ObjectSegment) Buffer() []byte { return s.memory.buf[s.memOffset : s.memOffset+s.size] }

// Dirty reports whether the segment has unflushed writes.
func (s *ObjectSegment) Dirty() bool { return s.dirty }

// overlaps reports whether this segment intersects [base, base+size).
func (s *ObjectSegment) overlaps(base, size uint64) bool {
	return overlap(s.offset, s.Size(), base, size)
}

// Object is one cached object: an ordered, non-overlapping map of
// segments plus the consistency tracker guarding client range mappings.
// All segment-map mutation is expected to happen from a single network
// thread (§4.2); ConsistencyTracker is the one piece that takes its own
// lock because it is also touched from the TCP disconnect sweep.
type Object struct {
	id          wire.ObjectID
	segments    []*ObjectSegment // sorted ascending by offset, never overlapping
	alignment   uint64
	consistency *ConsistencyTracker
	storage     interfaces.StorageBackend
	memBackend  membackend.Backend
	created     bool
}

func newObject(id wire.ObjectID, storage interfaces.StorageBackend, memBackend membackend.Backend, alignment uint64) *Object {
	return &Object{
		id:          id,
		alignment:   alignment,
		consistency: NewConsistencyTracker(),
		storage:     storage,
		memBackend:  memBackend,
	}
}

// ID returns the object's identifier.
func (o *Object) ID() wire.ObjectID { return o.id }

// ConsistencyTracker returns the per-object range tracker.
func (o *Object) ConsistencyTracker() *ConsistencyTracker { return o.consistency }

func (o *Object) key() string { return o.id.String() }

// Create provisions the object with durable storage. Safe to call more
// than once; only the first call reaches the storage backend.
func (o *Object) Create() error {
	if o.created {
		return nil
	}
	if err := o.storage.Create(o.key()); err != nil {
		return fmt.Errorf("create object %s: %w", o.key(), err)
	}
	o.created = true
	return nil
}

func snapToAlignment(base, size, alignment uint64) (uint64, uint64) {
	if alignment == 0 {
		return base, size
	}
	end := base + size
	alignedBase := base - (base % alignment)
	if rem := end % alignment; rem != 0 {
		end += alignment - rem
	}
	return alignedBase, end - alignedBase
}

// insert places seg into the sorted segment slice. Callers must ensure
// it does not overlap any existing segment (the §8 no-overlap
// invariant), which loadSegment/getBuffers maintain by construction.
func (o *Object) insert(seg *ObjectSegment) {
	i := sort.Search(len(o.segments), func(i int) bool { return o.segments[i].offset >= seg.offset })
	o.segments = append(o.segments, nil)
	copy(o.segments[i+1:], o.segments[i:])
	o.segments[i] = seg
}

// loadSegment allocates a fresh segment covering [offset, offset+size),
// optionally populating it from storage, and inserts it into the
// segment map.
func (o *Object) loadSegment(offset, size uint64, load bool, acceptLoadFail bool) (*ObjectSegment, error) {
	buf, err := o.memBackend.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("allocate segment %s@%d+%d: %w", o.key(), offset, size, err)
	}

	seg := &ObjectSegment{offset: offset, size: size, memory: newObjectSegmentMemory(buf, o.memBackend)}

	if load {
		n, err := o.storage.Load(o.key(), buf, int64(offset))
		if err != nil || uint64(n) < size {
			if !acceptLoadFail {
				if err == nil {
					err = fmt.Errorf("short load: got %d of %d bytes", n, size)
				}
				return nil, fmt.Errorf("load segment %s@%d+%d: %w", o.key(), offset, size, err)
			}
		}
	}

	o.insert(seg)
	return seg, nil
}

// FullyCovered reports whether a write of [base, base+size) leaves
// GetBuffers nothing worth loading from storage: either the range is
// already aligned, so every hole GetBuffers allocates for it lies wholly
// inside the write, or a single existing segment already contains the
// range, so there is no hole at all. ObjectWrite skips loading prior
// contents in that case (§4.5 ObjectWrite).
func (o *Object) FullyCovered(base, size uint64) bool {
	if b, s := snapToAlignment(base, size, o.alignment); b == base && s == size {
		return true
	}
	for _, seg := range o.segments {
		if seg.offset <= base && seg.offset+seg.size >= base+size {
			return true
		}
	}
	return false
}

// GetBuffers walks the segment map for [base, base+size), loading any
// holes from storage, and returns the full ordered run of segments that
// covers the requested range. When mode is write-intent, any returned
// segment that is still a shared copy-on-write alias (refcount > 1) is
// materialized into a private buffer first.
func (o *Object) GetBuffers(base, size uint64, mode wire.AccessMode, load bool, forWrite bool) ([]*ObjectSegment, error) {
	base, size = snapToAlignment(base, size, o.alignment)
	end := base + size

	var collected []*ObjectSegment
	cursor := base
	// Walk a snapshot: loadSegment inserts holes into o.segments.
	for _, seg := range append([]*ObjectSegment(nil), o.segments...) {
		if !seg.overlaps(base, size) {
			continue
		}
		if seg.offset > cursor {
			hole, err := o.loadSegment(cursor, seg.offset-cursor, load, false)
			if err != nil {
				return nil, err
			}
			collected = append(collected, hole)
		}
		collected = append(collected, seg)
		cursor = seg.offset + seg.Size()
	}
	if cursor < end {
		hole, err := o.loadSegment(cursor, end-cursor, load, false)
		if err != nil {
			return nil, err
		}
		collected = append(collected, hole)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].offset < collected[j].offset })

	if mode == wire.AccessWrite || forWrite {
		for _, seg := range collected {
			if seg.memory.refcount > 1 {
				fresh, err := o.memBackend.Allocate(seg.size)
				if err != nil {
					return nil, fmt.Errorf("materialize cow segment %s@%d: %w", o.key(), seg.offset, err)
				}
				copy(fresh, seg.Buffer())
				seg.memory.release()
				seg.memory = newObjectSegmentMemory(fresh, o.memBackend)
				seg.memOffset = 0
			}
		}
	}

	return collected, nil
}

// MarkDirty flags every segment overlapping [base, base+size) as dirty.
// Tracking is at segment granularity; per-byte sub-tracking is a
// deliberate non-goal.
func (o *Object) MarkDirty(base, size uint64) {
	for _, seg := range o.segments {
		if seg.overlaps(base, size) {
			seg.dirty = true
		}
	}
}

// Flush writes every dirty segment overlapping [base, base+size) back
// to storage (every dirty segment, when size == 0). A segment that
// fails to flush stays dirty; Flush keeps going and reports the first
// error once every segment has been attempted.
func (o *Object) Flush(base, size uint64) error {
	var firstErr error
	for _, seg := range o.segments {
		if !seg.dirty {
			continue
		}
		if size != 0 && !seg.overlaps(base, size) {
			continue
		}
		n, err := o.storage.Flush(o.key(), seg.Buffer(), int64(seg.offset))
		if err != nil || uint64(n) < seg.Size() {
			if err == nil {
				err = fmt.Errorf("short flush: wrote %d of %d bytes", n, seg.Size())
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("flush segment %s@%d: %w", o.key(), seg.offset, err)
			}
			continue
		}
		seg.dirty = false
	}
	return firstErr
}

// removeRange drops or trims every segment overlapping [base, base+size)
// so that range, and only that range, is free for a caller to install a
// new segment into. A segment that only partially overlaps survives as
// one or two remainder segments over the same shared memory, each
// retaining its own reference; a segment fully inside the range is
// dropped and its reference released.
func (o *Object) removeRange(base, size uint64) {
	end := base + size
	kept := make([]*ObjectSegment, 0, len(o.segments)+1)
	for _, seg := range o.segments {
		segEnd := seg.offset + seg.size
		if segEnd <= base || seg.offset >= end {
			kept = append(kept, seg)
			continue
		}

		if seg.offset < base {
			left := &ObjectSegment{
				offset:    seg.offset,
				memOffset: seg.memOffset,
				size:      base - seg.offset,
				memory:    seg.memory,
				dirty:     seg.dirty,
			}
			seg.memory.retain()
			kept = append(kept, left)
		}
		if segEnd > end {
			right := &ObjectSegment{
				offset:    end,
				memOffset: seg.memOffset + (end - seg.offset),
				size:      segEnd - end,
				memory:    seg.memory,
				dirty:     seg.dirty,
			}
			seg.memory.retain()
			kept = append(kept, right)
		}
		seg.memory.release()
	}
	o.segments = kept
	sort.Slice(o.segments, func(i, j int) bool { return o.segments[i].offset < o.segments[j].offset })
}
