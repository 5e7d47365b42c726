package container

import (
	"fmt"
	"sync"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/interfaces"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

// Container owns the full set of cached objects. Object lookup and
// creation are guarded by a mutex because the TCP disconnect sweep (run
// from its own goroutine, §4.6) walks every object's consistency
// tracker concurrently with the network thread creating new ones;
// everything inside a single Object is otherwise single-threaded, per
// §4.2.
type Container struct {
	mu         sync.Mutex
	objects    map[wire.ObjectID]*Object
	storage    interfaces.StorageBackend
	memBackend membackend.Backend
	alignment  uint64
}

// NewContainer builds an empty container. alignment of 0 disables
// alignment snapping in GetBuffers.
func NewContainer(storage interfaces.StorageBackend, memBackend membackend.Backend, alignment uint64) *Container {
	return &Container{
		objects:    make(map[wire.ObjectID]*Object),
		storage:    storage,
		memBackend: memBackend,
		alignment:  alignment,
	}
}

// GetObject returns the Object for id, creating an empty (not yet
// storage-provisioned) one if this is the first reference. Callers
// that need the object to exist in durable storage must still call
// Create() on it.
func (c *Container) GetObject(id wire.ObjectID) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	if obj, ok := c.objects[id]; ok {
		return obj
	}
	obj := newObject(id, c.storage, c.memBackend, c.alignment)
	c.objects[id] = obj
	return obj
}

// Lookup returns the Object for id without creating one, reporting
// whether it already existed.
func (c *Container) Lookup(id wire.ObjectID) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	return obj, ok
}

func (c *Container) register(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[obj.id] = obj
}

// ClientDisconnect sweeps every object's consistency tracker, releasing
// every range owned by tcpClientID. Called once per TCP socket close.
func (c *Container) ClientDisconnect(tcpClientID uint64) {
	c.mu.Lock()
	objects := make([]*Object, 0, len(c.objects))
	for _, obj := range c.objects {
		objects = append(objects, obj)
	}
	c.mu.Unlock()

	for _, obj := range objects {
		obj.consistency.ClientDisconnect(tcpClientID)
	}
}

// MakeFullCopyOnWrite duplicates every segment of srcID into a new
// object dstID: clean segments are shared by reference (refcount++) and
// their already-durable bytes are duplicated server-side via
// StorageBackend.MakeCowSegment; dirty segments (not yet on storage) are
// deep-copied into private dst buffers and marked dirty so a later
// flush writes them under the destination id.
func (c *Container) MakeFullCopyOnWrite(srcID, dstID wire.ObjectID, allowExist bool) (*Object, error) {
	src, ok := c.Lookup(srcID)
	if !ok {
		return nil, fmt.Errorf("make full cow: source object %s not found", srcID)
	}

	if _, exists := c.Lookup(dstID); exists && !allowExist {
		return nil, fmt.Errorf("make full cow: destination object %s already exists", dstID)
	}

	dst := newObject(dstID, c.storage, c.memBackend, c.alignment)
	if err := dst.Create(); err != nil {
		return nil, err
	}

	for _, seg := range src.segments {
		if seg.dirty {
			fresh, err := c.memBackend.Allocate(seg.size)
			if err != nil {
				return nil, fmt.Errorf("make full cow: allocate dirty span %s@%d: %w", dstID, seg.offset, err)
			}
			copy(fresh, seg.Buffer())
			dst.insert(&ObjectSegment{offset: seg.offset, size: seg.size, memory: newObjectSegmentMemory(fresh, c.memBackend), dirty: true})
			continue
		}

		seg.memory.retain()
		dst.insert(&ObjectSegment{offset: seg.offset, memOffset: seg.memOffset, size: seg.size, memory: seg.memory})
		if err := c.storage.MakeCowSegment(src.key(), dst.key(), int64(seg.offset), int64(seg.size)); err != nil {
			return nil, fmt.Errorf("make full cow: duplicate span %s@%d: %w", dstID, seg.offset, err)
		}
	}

	c.register(dst)
	return dst, nil
}

// MakeRangeCopyOnWrite installs, in dstID, aliases (or freshly-loaded
// private copies, for partial overlaps) of srcID's segments over
// [offset, offset+size). The caller guarantees writes to src after this
// call must not be visible through dst; the refcounted memory handle
// enforces that by forcing materialization on the next write-intent
// GetBuffers over an aliased segment.
func (c *Container) MakeRangeCopyOnWrite(srcID, dstID wire.ObjectID, offset, size uint64) error {
	src, ok := c.Lookup(srcID)
	if !ok {
		return fmt.Errorf("make range cow: source object %s not found", srcID)
	}
	dst := c.GetObject(dstID)

	end := offset + size
	for _, seg := range src.segments {
		if !seg.overlaps(offset, size) {
			continue
		}
		segEnd := seg.offset + seg.size

		if seg.offset >= offset && segEnd <= end {
			dst.removeRange(seg.offset, seg.size)
			seg.memory.retain()
			dst.insert(&ObjectSegment{offset: seg.offset, memOffset: seg.memOffset, size: seg.size, memory: seg.memory, dirty: seg.dirty})
			continue
		}

		lo, hi := seg.offset, segEnd
		if lo < offset {
			lo = offset
		}
		if hi > end {
			hi = end
		}
		dst.removeRange(lo, hi-lo)
		fresh, err := c.memBackend.Allocate(hi - lo)
		if err != nil {
			return fmt.Errorf("make range cow: allocate span %s@%d: %w", dstID, lo, err)
		}
		n, err := src.storage.Load(src.key(), fresh, int64(lo))
		if err != nil || uint64(n) < hi-lo {
			if err == nil {
				err = fmt.Errorf("short load: got %d of %d bytes", n, hi-lo)
			}
			return fmt.Errorf("make range cow: load span %s@%d: %w", dstID, lo, err)
		}
		dst.insert(&ObjectSegment{offset: lo, size: hi - lo, memory: newObjectSegmentMemory(fresh, c.memBackend)})
	}

	return nil
}
