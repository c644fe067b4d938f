package export

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
)

type fakeETuple struct {
	key   uint32
	count uint64
}

func (e *fakeETuple) MarshalMsg(b []byte) ([]byte, error) {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], e.key)
	binary.BigEndian.PutUint64(buf[4:12], e.count)
	return append(b, buf[:]...), nil
}

func (e *fakeETuple) UnmarshalMsg(bts []byte) ([]byte, error) {
	e.key = binary.BigEndian.Uint32(bts[0:4])
	e.count = binary.BigEndian.Uint64(bts[4:12])
	return bts[12:], nil
}

func (e *fakeETuple) Msgsize() int { return 12 }

func newTestETableDeps() (*module.ModuleDef, *module.ExportOps, *memsys.MemMap) {
	def := &module.ModuleDef{
		Name:      "test",
		NewETuple: func() module.Serializable { return &fakeETuple{} },
	}
	ops := &module.ExportOps{
		EMatch: func(et, tuple module.Serializable) bool {
			return et.(*fakeETuple).key == tuple.(*fakeETuple).key
		},
		Export: func(et, tuple module.Serializable, isNew bool) error {
			e := et.(*fakeETuple)
			t := tuple.(*fakeETuple)
			if isNew {
				e.key = t.key
			}
			e.count += t.count
			return nil
		},
		Compare: func(a, b module.Serializable) int {
			ac, bc := a.(*fakeETuple).count, b.(*fakeETuple).count
			switch {
			case ac > bc:
				return -1 // descending: highest count first
			case ac < bc:
				return 1
			default:
				return 0
			}
		},
		Action: func(et module.Serializable, windowTS time.Duration, rank int) module.ActionFlags {
			if rank == 0 {
				return module.ActionStore
			}
			return module.ActionDiscard
		},
		Store: func(et module.Serializable) ([]byte, error) {
			b, err := et.MarshalMsg(nil)
			return b, err
		},
	}
	pool := memsys.NewPrivate(1 << 20)
	arena := memsys.NewMemMap(pool, memsys.KindExportArena, "test")
	return def, ops, arena
}

func TestETableFoldSortActTopOne(t *testing.T) {
	def, ops, arena := newTestETableDeps()
	window := capture.Window{Start: 0, End: time.Second}
	table := NewETable(def, ops, arena, window)

	tuples := []module.Serializable{
		&fakeETuple{key: 1, count: 5},
		&fakeETuple{key: 2, count: 9},
		&fakeETuple{key: 1, count: 3},
	}
	if err := table.Fold(tuples); err != nil {
		t.Fatal(err)
	}
	if table.Count() != 2 {
		t.Fatalf("expected 2 distinct e-tuples, got %d", table.Count())
	}

	if err := table.Sort(); err != nil {
		t.Fatal(err)
	}
	records, err := table.Act()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly the top-1 entry stored, got %d records", len(records))
	}
	if records[0].ETuple.(*fakeETuple).key != 2 {
		t.Fatalf("expected key 2 (count 9) to win, got key %d", records[0].ETuple.(*fakeETuple).key)
	}
	if table.State() != StateStored {
		t.Fatalf("expected table state Stored, got %s", table.State())
	}

	table.Release()
	if table.State() != StateReleased {
		t.Fatal("expected Release to transition to Released")
	}
	if arena.InUse() != 0 {
		t.Fatal("expected Release to bulk-return the export arena")
	}
}

func TestETableRejectsOutOfOrderTransitions(t *testing.T) {
	def, ops, arena := newTestETableDeps()
	table := NewETable(def, ops, arena, capture.Window{})

	if _, err := table.Act(); err == nil {
		t.Fatal("expected Act before Sort to fail")
	}
	if err := table.Sort(); err != nil {
		t.Fatal(err)
	}
	if err := table.Fold(nil); err == nil {
		t.Fatal("expected Fold after Sort to fail")
	}
}
