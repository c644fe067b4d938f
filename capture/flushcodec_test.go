package capture

import (
	"testing"
	"time"

	"github.com/como-project/como/module"
	"github.com/como-project/como/modules/tuple"
)

func TestEncodeDecodeFlushRoundTrip(t *testing.T) {
	window := Window{Start: time.Second, End: 2 * time.Second}
	tuples := []module.Serializable{
		&tuple.Tuple{TS: 1, SrcIP: 1, DstIP: 2, SrcPort: 80, DstPort: 443, Proto: 6, Bytes: 100, Packets: 2},
		&tuple.Tuple{TS: 1, SrcIP: 3, DstIP: 4, SrcPort: 22, DstPort: 1234, Proto: 17, Bytes: 50, Packets: 1},
	}

	buf, err := EncodeFlush(window, tuples)
	if err != nil {
		t.Fatalf("EncodeFlush: %v", err)
	}

	gotWindow, gotTuples, err := DecodeFlush(buf, tuple.New)
	if err != nil {
		t.Fatalf("DecodeFlush: %v", err)
	}
	if gotWindow != window {
		t.Fatalf("window mismatch: got %+v want %+v", gotWindow, window)
	}
	if len(gotTuples) != len(tuples) {
		t.Fatalf("tuple count mismatch: got %d want %d", len(gotTuples), len(tuples))
	}
	for i, want := range tuples {
		wantBytes, _ := want.MarshalMsg(nil)
		gotBytes, _ := gotTuples[i].MarshalMsg(nil)
		if string(wantBytes) != string(gotBytes) {
			t.Fatalf("tuple %d mismatch: got %x want %x", i, gotBytes, wantBytes)
		}
	}
}

func TestEncodeDecodeFlushEnvelopeRoundTrip(t *testing.T) {
	window := Window{Start: time.Second, End: 2 * time.Second}
	tuples := []module.Serializable{&tuple.Tuple{TS: 1, Bytes: 9}}

	buf, err := EncodeFlushEnvelope("tuple", window, tuples)
	if err != nil {
		t.Fatalf("EncodeFlushEnvelope: %v", err)
	}
	name, rest, err := DecodeFlushEnvelope(buf)
	if err != nil {
		t.Fatalf("DecodeFlushEnvelope: %v", err)
	}
	if name != "tuple" {
		t.Fatalf("module name mismatch: got %q", name)
	}
	gotWindow, gotTuples, err := DecodeFlush(rest, tuple.New)
	if err != nil {
		t.Fatalf("DecodeFlush: %v", err)
	}
	if gotWindow != window || len(gotTuples) != 1 {
		t.Fatalf("unexpected decode result: window=%+v tuples=%d", gotWindow, len(gotTuples))
	}
}

func TestDecodeFlushTruncated(t *testing.T) {
	if _, _, err := DecodeFlush([]byte{1, 2, 3}, tuple.New); err == nil {
		t.Fatal("expected error decoding truncated flush message")
	}
}
