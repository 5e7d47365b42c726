package membackend

import "testing"

func TestMallocAllocateTracksUsed(t *testing.T) {
	m := NewMalloc()

	buf, err := m.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(buf) != 4096 {
		t.Errorf("Allocate returned %d bytes, want 4096", len(buf))
	}
	if m.UsedBytes() != 4096 {
		t.Errorf("UsedBytes() = %d, want 4096", m.UsedBytes())
	}

	m.Deallocate(buf)
	if m.UsedBytes() != 0 {
		t.Errorf("UsedBytes() after deallocate = %d, want 0", m.UsedBytes())
	}
}

func TestMallocMultipleAllocations(t *testing.T) {
	m := NewMalloc()

	a, _ := m.Allocate(1024)
	b, _ := m.Allocate(2048)

	if m.UsedBytes() != 3072 {
		t.Errorf("UsedBytes() = %d, want 3072", m.UsedBytes())
	}

	m.Deallocate(a)
	m.Deallocate(b)

	if m.UsedBytes() != 0 {
		t.Errorf("UsedBytes() after both deallocated = %d, want 0", m.UsedBytes())
	}
}
