package capture

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

// testTuple is a minimal fixed-size Serializable for flow-table tests: a
// single counter keyed implicitly by whatever field the test's Match
// function inspects.
type testTuple struct {
	key   uint32
	count uint64
}

func (t *testTuple) MarshalMsg(b []byte) ([]byte, error) {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], t.key)
	binary.BigEndian.PutUint64(buf[4:12], t.count)
	return append(b, buf[:]...), nil
}

func (t *testTuple) UnmarshalMsg(bts []byte) ([]byte, error) {
	t.key = binary.BigEndian.Uint32(bts[0:4])
	t.count = binary.BigEndian.Uint64(bts[4:12])
	return bts[12:], nil
}

func (t *testTuple) Msgsize() int { return 12 }

func newTestDef() *module.ModuleDef {
	return &module.ModuleDef{
		Name:     "test",
		FlushIvl: time.Second,
		NewTuple: func() module.Serializable { return &testTuple{} },
	}
}

// keyFromPacket reuses CapLen as a synthetic flow key so tests can drive
// distinct flows without building real packet bytes.
func keyFromPacket(p *pkt.Packet) uint32 { return p.CapLen }

func newTestOps() *module.CaptureOps {
	return &module.CaptureOps{
		Check: func(p *pkt.Packet) bool { return true },
		Hash:  module.DefaultHash(func(p *pkt.Packet) []byte {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], keyFromPacket(p))
			return b[:]
		}),
		Match: func(p *pkt.Packet, tuple module.Serializable) bool {
			return tuple.(*testTuple).key == keyFromPacket(p)
		},
		Update: func(p *pkt.Packet, tuple module.Serializable, isNew bool) error {
			tt := tuple.(*testTuple)
			if isNew {
				tt.key = keyFromPacket(p)
			}
			tt.count++
			return nil
		},
		Flush: func(windowStart time.Duration) (*module.IvlState, error) {
			return &module.IvlState{Start: windowStart}, nil
		},
		TableSize: 64,
	}
}

func newTestArena(t *testing.T) *memsys.MemMap {
	t.Helper()
	pool := memsys.NewPrivate(1 << 20)
	return memsys.NewMemMap(pool, memsys.KindCaptureArena, "test")
}

func TestFlowTableLookupInsertAndMatch(t *testing.T) {
	def := newTestDef()
	ops := newTestOps()
	table := NewFlowTable(def, ops, newTestArena(t))

	p1 := &pkt.Packet{TS: 0, CapLen: 1}
	tuple, isNew, err := table.Lookup(p1)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("expected first lookup for a flow to be new")
	}
	tuple.(*testTuple).key = 1

	p1again := &pkt.Packet{TS: 1, CapLen: 1}
	tuple2, isNew2, err := table.Lookup(p1again)
	if err != nil {
		t.Fatal(err)
	}
	if isNew2 {
		t.Fatal("expected second lookup for same flow to hit existing entry")
	}
	if tuple2 != tuple {
		t.Fatal("expected same tuple instance for matching flow")
	}

	p2 := &pkt.Packet{TS: 2, CapLen: 2}
	_, isNew3, err := table.Lookup(p2)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew3 {
		t.Fatal("expected distinct flow to be new")
	}

	if table.Count() != 2 {
		t.Fatalf("expected 2 distinct flows, got %d", table.Count())
	}
}

func TestFlowTableResetReleasesArena(t *testing.T) {
	def := newTestDef()
	ops := newTestOps()
	arena := newTestArena(t)
	table := NewFlowTable(def, ops, arena)

	for i := 0; i < 5; i++ {
		if _, _, err := table.Lookup(&pkt.Packet{CapLen: uint32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if arena.InUse() != 5 {
		t.Fatalf("expected 5 arena blocks in use, got %d", arena.InUse())
	}

	table.Reset()
	if arena.InUse() != 0 {
		t.Fatalf("expected arena released after Reset, got %d blocks", arena.InUse())
	}
	if table.Count() != 0 {
		t.Fatalf("expected empty table after Reset, got %d", table.Count())
	}
}

func TestFlowTableOverloadOnArenaExhaustion(t *testing.T) {
	def := newTestDef()
	ops := newTestOps()
	pool := memsys.NewPrivate(1 << 5) // smallest possible arena: one order-5 block
	arena := memsys.NewMemMap(pool, memsys.KindCaptureArena, "test")
	table := NewFlowTable(def, ops, arena)

	if _, _, err := table.Lookup(&pkt.Packet{CapLen: 1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := table.Lookup(&pkt.Packet{CapLen: 2}); err == nil {
		t.Fatal("expected arena exhaustion to surface an error on a second distinct flow")
	}
}
