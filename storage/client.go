package storage

import "github.com/como-project/como/cmn"

// Client-facing wrapper used by EXPORT/QUERY: streamName() names a
// bytestream deterministically from a (node, module) pair, matching
// spec.md §6's "one directory per (node, module)".
func streamName(node, module string) string { return node + "/" + module }

// WriterHandle is an export.RecordSink backed by a STORAGE server —
// EXPORT's only point of contact with storage: it never touches a
// Bytestream directly, only the fixed {Open, Append, Close} surface.
type WriterHandle struct {
	server     *Server
	client     *Client
	streamName string
	streamSize int64
}

// NewWriterHandle opens (or attaches to) the named bytestream as the
// single writer. At most one WriterHandle may be open per stream at a
// time, enforced by Bytestream.OpenWriter.
func NewWriterHandle(s *Server, node, module string, streamSize int64) (*WriterHandle, error) {
	name := streamName(node, module)
	c, err := s.Open(name, ModeWriter, streamSize)
	if err != nil {
		return nil, err
	}
	return &WriterHandle{server: s, client: c, streamName: name, streamSize: streamSize}, nil
}

// Append implements export.RecordSink.
func (w *WriterHandle) Append(_ string, frame []byte) error {
	if err := w.client.stream.Append(frame); err != nil {
		return err
	}
	return nil
}

func (w *WriterHandle) Close() error { return w.client.Close(w.client.stream.CommitOffset()) }

// ReaderHandle is QUERY/replay's read-side wrapper: sequential record
// iteration over a bytestream using Map+load, hiding chunk boundaries
// from the caller.
type ReaderHandle struct {
	server *Server
	client *Client
}

func NewReaderHandle(s *Server, node, module string, streamSize int64, blocking bool) (*ReaderHandle, error) {
	mode := ModeReader
	if !blocking {
		mode = ModeReaderNonBlock
	}
	name := streamName(node, module)
	c, err := s.Open(name, mode, streamSize)
	if err != nil {
		return nil, err
	}
	return &ReaderHandle{server: s, client: c}, nil
}

// Next returns the next record frame in the bytestream, or (nil, false,
// nil) at a non-blocking EOF. A blocking reader instead waits for the
// writer's next commit, subject to the server watchdog.
func (r *ReaderHandle) Next() (frame []byte, ok bool, err error) {
	start := r.client.Pos()

	header, n, err := r.server.Map(r.client, start, recordHeaderSize)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	if n < recordHeaderSize {
		return nil, false, cmn.Errorf(cmn.KindMalformed, "record header split across a chunk boundary")
	}
	size := recordSize(header)

	full, n2, err := r.server.Map(r.client, start, recordHeaderSize+size)
	if err != nil {
		return nil, false, err
	}
	if n2 < recordHeaderSize+size {
		return nil, false, cmn.Errorf(cmn.KindMalformed, "record body split across a chunk boundary")
	}
	return full, true, nil
}

func recordSize(header []byte) int {
	return int(header[0])<<24 | int(header[1])<<16 | int(header[2])<<8 | int(header[3])
}

func (r *ReaderHandle) Close() error { return r.client.Close(0) }

// RecordReader abstracts sequential record iteration so QUERY can read
// from STORAGE whether it lives in the same process (ReaderHandle) or a
// separate one reached over the storage RPC (RemoteReaderHandle, in
// rpc.go) — the cross-process topology SPEC_FULL.md §2 NEW calls for
// without QUERY's handler code needing to know which.
type RecordReader interface {
	Next() (frame []byte, ok bool, err error)
	Close() error
}

// RecordSource opens a RecordReader for (node, module); QUERY depends
// only on this, never on *Server directly.
type RecordSource interface {
	OpenReader(node, module string, streamSize int64, blocking bool) (RecordReader, error)
}

// LocalSource adapts an in-process *Server to RecordSource, for a
// single-binary deployment or tests.
type LocalSource struct{ Server *Server }

func (l LocalSource) OpenReader(node, module string, streamSize int64, blocking bool) (RecordReader, error) {
	return NewReaderHandle(l.Server, node, module, streamSize, blocking)
}
