package membackend

import "testing"

func TestCacheReusesDeallocatedRange(t *testing.T) {
	base := NewMalloc()
	cache := NewCache(base)

	buf, err := cache.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	cache.Deallocate(buf)

	if base.UsedBytes() != 4096 {
		t.Errorf("expected child backend to still report the deallocated range as used, got %d", base.UsedBytes())
	}

	buf2, err := cache.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if &buf[0] != &buf2[0] {
		t.Error("expected Cache to reuse the freed range instead of allocating a new one")
	}
}

func TestCacheClosePropagatesToChild(t *testing.T) {
	base := NewMalloc()
	cache := NewCache(base)

	buf, _ := cache.Allocate(4096)
	cache.Deallocate(buf)
	cache.Close()

	if base.UsedBytes() != 0 {
		t.Errorf("expected Close to release cached ranges back to child, child still reports %d used", base.UsedBytes())
	}
}
