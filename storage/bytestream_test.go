package storage

import (
	"testing"
)

func TestChunkNameRoundTrip(t *testing.T) {
	for _, off := range []int64{0, 1, 4096, 1 << 30} {
		name := chunkName(off)
		if len(name) != chunkNameWidth {
			t.Fatalf("chunk name %q has wrong width", name)
		}
		got, err := parseChunkName(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != off {
			t.Fatalf("round trip mismatch: %d -> %q -> %d", off, name, got)
		}
	}
}

func TestAppendSealsChunkAtCap(t *testing.T) {
	dir := t.TempDir()
	// streamsize 256 => chunk cap 128 bytes, small enough to force a
	// split within a handful of small records (spec.md §8 scenario 4,
	// scaled down from MB to bytes for a fast unit test).
	b, err := OpenBytestream(dir, 256)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.OpenWriter(); err != nil {
		t.Fatal(err)
	}

	rec := make([]byte, 40)
	for i := 0; i < 5; i++ {
		if err := b.Append(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.CloseWriter(b.CommitOffset()); err != nil {
		t.Fatal(err)
	}

	if len(b.chunks) < 2 {
		t.Fatalf("expected at least 2 chunks after exceeding the 128-byte cap, got %d", len(b.chunks))
	}
	for i, c := range b.chunks {
		if c.size > b.chunkCap {
			t.Fatalf("chunk %d size %d exceeds cap %d", i, c.size, b.chunkCap)
		}
		if i > 0 && c.start != b.chunks[i-1].end() {
			t.Fatalf("chunk %d start %d does not follow chunk %d end %d", i, c.start, i-1, b.chunks[i-1].end())
		}
	}
}

func TestBytestreamRecoversFromDisk(t *testing.T) {
	dir := t.TempDir()
	b1, err := OpenBytestream(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.OpenWriter(); err != nil {
		t.Fatal(err)
	}
	payload := []byte("hello-world-record")
	if err := b1.Append(payload); err != nil {
		t.Fatal(err)
	}
	if err := b1.CloseWriter(b1.CommitOffset()); err != nil {
		t.Fatal(err)
	}

	b2, err := OpenBytestream(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if b2.CommitOffset() != int64(len(payload)) {
		t.Fatalf("expected recovered commit offset %d, got %d", len(payload), b2.CommitOffset())
	}
	if b2.FirstOffset() != 0 {
		t.Fatalf("expected recovered first offset 0, got %d", b2.FirstOffset())
	}
}
