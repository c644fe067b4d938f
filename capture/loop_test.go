package capture

import (
	"testing"
	"time"

	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

func newTestModuleCapture(t *testing.T, onFlush FlushFunc) *ModuleCapture {
	t.Helper()
	def := newTestDef()
	ops := newTestOps()
	m := &module.Module{Def: def, Role: module.RoleCapture, Capture: ops}
	mc, err := NewModuleCapture(m, newTestArena(t), onFlush)
	if err != nil {
		t.Fatal(err)
	}
	return mc
}

// TestWindowRollover exercises spec.md §8 scenario 1: packets in window N
// flush exactly once when the first packet of window N+1 arrives, and the
// flushed tuple set reflects only window N's packets.
func TestWindowRollover(t *testing.T) {
	var flushes []Window
	var counts []int

	mc := newTestModuleCapture(t, func(w Window, tuples []module.Serializable) error {
		flushes = append(flushes, w)
		counts = append(counts, len(tuples))
		return nil
	})

	ivl := time.Second
	batch := &pkt.Batch{Packets: []pkt.Packet{
		{TS: int64(0), CapLen: 1},
		{TS: int64(100 * time.Millisecond), CapLen: 1},
		{TS: int64(200 * time.Millisecond), CapLen: 2},
		{TS: int64(ivl) + int64(50*time.Millisecond), CapLen: 1}, // rolls into window 2
	}}

	if err := mc.ProcessBatch(batch); err != nil {
		t.Fatal(err)
	}

	if len(flushes) != 1 {
		t.Fatalf("expected exactly one flush from the rollover, got %d", len(flushes))
	}
	if flushes[0].Start != 0 || flushes[0].End != ivl {
		t.Fatalf("unexpected flushed window: %+v", flushes[0])
	}
	if counts[0] != 2 {
		t.Fatalf("expected 2 distinct flows flushed from window 1, got %d", counts[0])
	}

	// The rollover packet should now be live in window 2, not yet flushed.
	if !mc.haveWindow {
		t.Fatal("expected an open window after processing the rollover packet")
	}
	if mc.table.Count() != 1 {
		t.Fatalf("expected window 2 to hold exactly the rollover packet's flow, got %d", mc.table.Count())
	}
}

func TestExplicitFlushClosesOpenWindow(t *testing.T) {
	flushed := false
	mc := newTestModuleCapture(t, func(w Window, tuples []module.Serializable) error {
		flushed = true
		return nil
	})

	if err := mc.ProcessBatch(&pkt.Batch{Packets: []pkt.Packet{{TS: 0, CapLen: 1}}}); err != nil {
		t.Fatal(err)
	}
	if flushed {
		t.Fatal("did not expect a flush before rollover or explicit Flush")
	}

	if err := mc.Flush(); err != nil {
		t.Fatal(err)
	}
	if !flushed {
		t.Fatal("expected explicit Flush to ship the open window")
	}
	if mc.haveWindow {
		t.Fatal("expected Flush to close the open window")
	}
}

func TestForceFlushOnArenaOverload(t *testing.T) {
	def := newTestDef()
	ops := newTestOps()
	pool := memsys.NewPrivate(1 << 5)
	arena := memsys.NewMemMap(pool, memsys.KindCaptureArena, "test")
	m := &module.Module{Def: def, Role: module.RoleCapture, Capture: ops}

	flushCount := 0
	mc, err := NewModuleCapture(m, arena, func(w Window, tuples []module.Serializable) error {
		flushCount++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	batch := &pkt.Batch{Packets: []pkt.Packet{
		{TS: 0, CapLen: 1},
		{TS: 1, CapLen: 2}, // distinct flow forces an arena allocation the tiny pool can't satisfy
	}}
	if err := mc.ProcessBatch(batch); err != nil {
		t.Fatal(err)
	}
	if flushCount != 1 {
		t.Fatalf("expected exactly one forced flush on overload, got %d", flushCount)
	}
	if mc.table.Count() != 1 {
		t.Fatalf("expected the second flow to land in the fresh post-overload table, got %d", mc.table.Count())
	}
}
