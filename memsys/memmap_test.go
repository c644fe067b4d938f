package memsys

import "testing"

func TestMemMapReleaseReturnsAllBlocks(t *testing.T) {
	p := NewPrivate(1 << 16)
	mm := NewMemMap(p, KindCaptureArena, "tuple")

	for i := 0; i < 10; i++ {
		if _, err := mm.Alloc(64); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	inUseBefore, _, _ := p.UsageStats()
	if inUseBefore == 0 {
		t.Fatal("expected nonzero pool usage after allocations")
	}

	n := mm.Release()
	if n != 10 {
		t.Errorf("Release() returned %d blocks, want 10", n)
	}
	if mm.InUse() != 0 {
		t.Errorf("InUse() = %d after Release, want 0", mm.InUse())
	}

	inUseAfter, _, _ := p.UsageStats()
	if inUseAfter != 0 {
		t.Errorf("pool usage after Release = %d, want 0", inUseAfter)
	}
}

func TestMemMapCloseForgetsPool(t *testing.T) {
	p := NewPrivate(1 << 16)
	mm := NewMemMap(p, KindPersistent, "protocol")
	mm.Alloc(32)
	mm.Close()
	if mm.InUse() != 0 {
		t.Errorf("InUse() after Close = %d, want 0", mm.InUse())
	}
}
