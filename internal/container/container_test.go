package container

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

// mockStorage is a minimal in-memory StorageBackend used to exercise the
// container against pread/pwrite-shaped semantics without a real object
// store.
type mockStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) Create(objectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[objectID]; !ok {
		m.data[objectID] = nil
	}
	return nil
}

func (m *mockStorage) Load(objectID string, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.data[objectID]
	n := 0
	for i := range buf {
		idx := int(offset) + i
		if idx < len(src) {
			buf[i] = src[idx]
			n++
		} else {
			buf[i] = 0
			n++
		}
	}
	return n, nil
}

func (m *mockStorage) Flush(objectID string, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst := m.data[objectID]
	needed := int(offset) + len(buf)
	if needed > len(dst) {
		grown := make([]byte, needed)
		copy(grown, dst)
		dst = grown
	}
	copy(dst[offset:], buf)
	m.data[objectID] = dst
	return len(buf), nil
}

func (m *mockStorage) MakeCowSegment(srcObjectID, dstObjectID string, offset, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.data[srcObjectID]
	dst := m.data[dstObjectID]
	needed := int(offset + size)
	if needed > len(dst) {
		grown := make([]byte, needed)
		copy(grown, dst)
		dst = grown
	}
	for i := int64(0); i < size; i++ {
		idx := int(offset + i)
		if idx < len(src) {
			dst[idx] = src[idx]
		}
	}
	m.data[dstObjectID] = dst
	return nil
}

func testContainer(t *testing.T) (*Container, *mockStorage) {
	t.Helper()
	storage := newMockStorage()
	return NewContainer(storage, membackend.NewMalloc(), 0), storage
}

func TestGetBuffersLoadsHolesFromStorage(t *testing.T) {
	c, storage := testContainer(t)
	id := wire.ObjectID{High: 10, Low: 20}
	storage.Create(id.String())
	storage.Flush(id.String(), []byte{1, 2, 3, 4}, 0)

	obj := c.GetObject(id)
	segs, err := obj.GetBuffers(0, 4, wire.AccessRead, true, false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, []byte{1, 2, 3, 4}, segs[0].Buffer())
}

func TestWriteThenFlushRoundTrips(t *testing.T) {
	c, storage := testContainer(t)
	id := wire.ObjectID{High: 10, Low: 20}
	storage.Create(id.String())

	obj := c.GetObject(id)
	segs, err := obj.GetBuffers(64, 32, wire.AccessWrite, false, true)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	for i := range segs[0].Buffer() {
		segs[0].Buffer()[i] = 0x01
	}
	obj.MarkDirty(64, 32)

	require.NoError(t, obj.Flush(0, 0))
	require.False(t, segs[0].Dirty())

	readBack := make([]byte, 32)
	n, err := storage.Load(id.String(), readBack, 64)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	for _, b := range readBack {
		require.Equal(t, byte(0x01), b)
	}
}

func TestWriteIntentMaterializesSharedSegment(t *testing.T) {
	c, _ := testContainer(t)
	src := wire.ObjectID{High: 1, Low: 1}
	dst := wire.ObjectID{High: 1, Low: 2}

	srcObj := c.GetObject(src)
	segs, err := srcObj.GetBuffers(0, 16, wire.AccessWrite, false, true)
	require.NoError(t, err)
	copy(segs[0].Buffer(), []byte("0123456789ABCDEF"))

	require.NoError(t, c.storage.Create(dst.String()))
	dstObj, err := c.MakeFullCopyOnWrite(src, dst, true)
	require.NoError(t, err)

	// Shared memory: a read-intent pass must see the same bytes.
	readSegs, err := dstObj.GetBuffers(0, 16, wire.AccessRead, false, false)
	require.NoError(t, err)
	require.Equal(t, "0123456789ABCDEF", string(readSegs[0].Buffer()))
	require.Equal(t, 2, int(readSegs[0].memory.refcount))

	// A write-intent pass on dst must materialize a private copy...
	writeSegs, err := dstObj.GetBuffers(0, 16, wire.AccessWrite, false, true)
	require.NoError(t, err)
	require.Equal(t, 1, int(writeSegs[0].memory.refcount))
	copy(writeSegs[0].Buffer(), []byte("ZZZZZZZZZZZZZZZZ"))

	// ...leaving src untouched.
	srcSegs, err := srcObj.GetBuffers(0, 16, wire.AccessRead, false, false)
	require.NoError(t, err)
	require.Equal(t, "0123456789ABCDEF", string(srcSegs[0].Buffer()))
}

func TestMakeFullCopyOnWriteDeepCopiesDirtySegments(t *testing.T) {
	c, _ := testContainer(t)
	src := wire.ObjectID{High: 2, Low: 1}
	dst := wire.ObjectID{High: 2, Low: 2}

	srcObj := c.GetObject(src)
	segs, err := srcObj.GetBuffers(0, 8, wire.AccessWrite, false, true)
	require.NoError(t, err)
	copy(segs[0].Buffer(), []byte("dirty!!!"))
	srcObj.MarkDirty(0, 8)

	require.NoError(t, c.storage.Create(dst.String()))
	dstObj, err := c.MakeFullCopyOnWrite(src, dst, true)
	require.NoError(t, err)

	dstSegs, err := dstObj.GetBuffers(0, 8, wire.AccessRead, false, false)
	require.NoError(t, err)
	require.Equal(t, "dirty!!!", string(dstSegs[0].Buffer()))
	require.True(t, dstSegs[0].Dirty())
	require.Equal(t, 1, int(dstSegs[0].memory.refcount))
}

func TestMakeFullCopyOnWriteRejectsExistingDestination(t *testing.T) {
	c, storage := testContainer(t)
	src := wire.ObjectID{High: 3, Low: 1}
	dst := wire.ObjectID{High: 3, Low: 2}

	c.GetObject(src)
	storage.Create(dst.String())
	c.register(newObject(dst, c.storage, c.memBackend, c.alignment))

	_, err := c.MakeFullCopyOnWrite(src, dst, false)
	require.Error(t, err)
}

func TestClientDisconnectSweepsAllObjects(t *testing.T) {
	c, _ := testContainer(t)
	a := c.GetObject(wire.ObjectID{High: 1, Low: 1})
	b := c.GetObject(wire.ObjectID{High: 1, Low: 2})

	require.EqualValues(t, 1, a.consistency.RegisterRange(42, 0, 100, wire.AccessWrite))
	require.EqualValues(t, 1, b.consistency.RegisterRange(42, 0, 100, wire.AccessWrite))

	c.ClientDisconnect(42)

	require.False(t, a.consistency.HasCollision(0, 100, wire.AccessWrite))
	require.False(t, b.consistency.HasCollision(0, 100, wire.AccessWrite))
}
