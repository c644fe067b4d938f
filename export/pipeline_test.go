package export

import (
	"testing"
	"time"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
)

type memSink struct {
	frames map[string][][]byte
}

func newMemSink() *memSink { return &memSink{frames: make(map[string][][]byte)} }

func (s *memSink) Append(streamName string, frame []byte) error {
	s.frames[streamName] = append(s.frames[streamName], frame)
	return nil
}

// TestPipelineTopNAction exercises spec.md §8 scenario 2: across two
// flush messages for the same window, only the single highest-ranked
// e-tuple is ever written to the sink once the window closes.
func TestPipelineTopNAction(t *testing.T) {
	def, ops, _ := newTestETableDeps()
	pool := memsys.NewPrivate(1 << 20)
	sink := newMemSink()
	p := NewPipeline(def, ops, pool, sink)

	window := capture.Window{Start: 0, End: time.Second}

	if err := p.OnFlush(window, []module.Serializable{
		&fakeETuple{key: 1, count: 5},
		&fakeETuple{key: 2, count: 9},
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnFlush(window, []module.Serializable{
		&fakeETuple{key: 1, count: 3},
	}); err != nil {
		t.Fatal(err)
	}

	if err := p.CloseWindow(); err != nil {
		t.Fatal(err)
	}

	if len(sink.frames[def.Output]) != 1 {
		t.Fatalf("expected exactly one record stored for the window, got %d", len(sink.frames[def.Output]))
	}
	_, payload, rest, err := DecodeRecord(sink.frames[def.Output][0])
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes after decoding record, got %d", len(rest))
	}
	et := &fakeETuple{}
	if _, err := et.UnmarshalMsg(payload); err != nil {
		t.Fatal(err)
	}
	if et.key != 2 {
		t.Fatalf("expected stored record to be key 2 (count 9, the window winner), got key %d", et.key)
	}

	if err := p.CloseWindow(); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames[def.Output]) != 1 {
		t.Fatal("expected CloseWindow on an empty pipeline to be a no-op")
	}
}

func TestPipelineOpensFreshTableOnNewWindow(t *testing.T) {
	def, ops, _ := newTestETableDeps()
	pool := memsys.NewPrivate(1 << 20)
	sink := newMemSink()
	p := NewPipeline(def, ops, pool, sink)

	w1 := capture.Window{Start: 0, End: time.Second}
	w2 := capture.Window{Start: time.Second, End: 2 * time.Second}

	if err := p.OnFlush(w1, []module.Serializable{&fakeETuple{key: 1, count: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnFlush(w2, []module.Serializable{&fakeETuple{key: 1, count: 1}}); err != nil {
		t.Fatal(err)
	}

	// The second OnFlush should have closed and stored window 1 already.
	if len(sink.frames[def.Output]) != 1 {
		t.Fatalf("expected window 1 auto-closed on window 2's first flush, got %d records", len(sink.frames[def.Output]))
	}

	if err := p.CloseWindow(); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames[def.Output]) != 2 {
		t.Fatalf("expected window 2 stored after explicit CloseWindow, got %d records", len(sink.frames[def.Output]))
	}
}
