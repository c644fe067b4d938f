package storage

import (
	"net"
	"testing"
)

// TestRemoteWriteThenRead exercises the storage RPC layer end-to-end
// over an in-memory pipe: a RemoteClient writer appends two records,
// closes, and a RemoteClient reader maps them back out — the
// cross-process counterpart of TestBlockingReaderWakeup's in-process
// Server.Map calls.
func TestRemoteWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	srv := NewServer(dir)
	const streamSize = 1 << 20

	writerConn, writerSrv := net.Pipe()
	go NewRemoteServer(srv).Serve(writerSrv)

	w, err := DialOpen(writerConn, "n1/m1", ModeWriter, streamSize)
	if err != nil {
		t.Fatalf("dial open writer: %v", err)
	}
	rec1 := []byte("hello-record-one")
	rec2 := []byte("hello-record-two")
	if err := w.Append(rec1); err != nil {
		t.Fatalf("append rec1: %v", err)
	}
	if err := w.Append(rec2); err != nil {
		t.Fatalf("append rec2: %v", err)
	}
	if err := w.Close(int64(len(rec1) + len(rec2))); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	readerConn, readerSrv := net.Pipe()
	go NewRemoteServer(srv).Serve(readerSrv)

	r, err := DialOpen(readerConn, "n1/m1", ModeReaderNonBlock, streamSize)
	if err != nil {
		t.Fatalf("dial open reader: %v", err)
	}
	view, err := r.Map(0, len(rec1))
	if err != nil {
		t.Fatalf("map rec1: %v", err)
	}
	if string(view) != string(rec1) {
		t.Fatalf("rec1 mismatch: got %q want %q", view, rec1)
	}
	view, err = r.Map(int64(len(rec1)), len(rec2))
	if err != nil {
		t.Fatalf("map rec2: %v", err)
	}
	if string(view) != string(rec2) {
		t.Fatalf("rec2 mismatch: got %q want %q", view, rec2)
	}
	if err := r.Close(0); err != nil {
		t.Fatalf("close reader: %v", err)
	}
}
