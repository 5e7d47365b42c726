package membackend

import "testing"

func TestBalancePicksLeastUsedChild(t *testing.T) {
	b := NewBalance()
	a, c := NewMalloc(), NewMalloc()
	b.Register(a)
	b.Register(c)

	// Load up the first child so the balancer should prefer the second.
	if _, err := a.Allocate(8192); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	buf, err := b.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if c.UsedBytes() != 4096 {
		t.Errorf("expected the least-used child to receive the allocation, got c.UsedBytes()=%d", c.UsedBytes())
	}

	b.Deallocate(buf)
	if c.UsedBytes() != 0 {
		t.Errorf("expected Deallocate to route back to the owning child, got c.UsedBytes()=%d", c.UsedBytes())
	}
}

func TestBalanceUsedBytesSumsChildren(t *testing.T) {
	b := NewBalance()
	a, c := NewMalloc(), NewMalloc()
	b.Register(a)
	b.Register(c)

	b.Allocate(1024)
	b.Allocate(1024)

	if b.UsedBytes() != 2048 {
		t.Errorf("UsedBytes() = %d, want 2048", b.UsedBytes())
	}
}

func TestBalanceNoBackendsErrors(t *testing.T) {
	b := NewBalance()
	if _, err := b.Allocate(4096); err == nil {
		t.Error("expected an error allocating with no registered backends")
	}
}
