// RPC exposes the storage client API of spec.md §4.3 (open/map/seek/
// commit/close) over ipc.Frame, for the deployment where EXPORT and
// QUERY run in a different OS process than STORAGE (SPEC_FULL.md §2
// NEW: one cmd/ binary per long-lived process). Within one process
// (e.g. a test, or an all-in-one dev binary) callers use Server/Client
// directly; RemoteServer/RemoteClient exist only to carry the same calls
// across a socket.
//
// Unlike the module-lifecycle IPC in the ipc package (one shared,
// multiplexed connection per peer, dispatched through ipc.Loop), a
// storage handle is synchronous call/response on its own dedicated
// connection — mirroring the original's one-fd-per-open() client
// model (_examples/original_source/src/trunk/include/storage.h)
// more directly than trying to thread handle identity through the
// shared peer-class IPC.
package storage

import (
	"encoding/binary"
	"net"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/ipc"
)

const (
	seekDirNext byte = 0
	seekDirPrev byte = 1
)

func encodeOpenReq(name string, mode Mode, streamSize int64) []byte {
	buf := make([]byte, 1+8+2+len(name))
	buf[0] = byte(mode)
	binary.BigEndian.PutUint64(buf[1:9], uint64(streamSize))
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(name)))
	copy(buf[11:], name)
	return buf
}

func decodeOpenReq(data []byte) (name string, mode Mode, streamSize int64) {
	mode = Mode(data[0])
	streamSize = int64(binary.BigEndian.Uint64(data[1:9]))
	n := binary.BigEndian.Uint16(data[9:11])
	name = string(data[11 : 11+n])
	return
}

func encodeOffset(ofs int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ofs))
	return buf
}

func decodeOffset(data []byte) int64 { return int64(binary.BigEndian.Uint64(data)) }

func encodeMapReq(ofs int64, sz int) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(ofs))
	binary.BigEndian.PutUint32(buf[8:12], uint32(sz))
	return buf
}

func decodeMapReq(data []byte) (ofs int64, sz int) {
	ofs = int64(binary.BigEndian.Uint64(data[0:8]))
	sz = int(binary.BigEndian.Uint32(data[8:12]))
	return
}

func writeErr(conn net.Conn, err error) error {
	return ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgStorageErr, Data: []byte(err.Error())})
}

// RemoteServer answers storage RPC requests arriving on a connection by
// delegating to an in-process *Server. One connection serves exactly one
// client handle, opened by that connection's first request.
type RemoteServer struct {
	srv *Server
}

func NewRemoteServer(srv *Server) *RemoteServer { return &RemoteServer{srv: srv} }

// Serve handles requests on conn until it closes, the client sends
// MsgStorageClose, or a framing error occurs. Blocking Map calls run on
// this goroutine, so a slow reader only ever stalls its own connection —
// consistent with spec.md §4.3's per-client watchdog being the only
// cross-client coupling.
func (rs *RemoteServer) Serve(conn net.Conn) {
	defer conn.Close()
	var client *Client

	for {
		f, err := ipc.Decode(conn)
		if err != nil {
			return
		}
		switch f.Type {
		case ipc.MsgStorageOpen:
			name, mode, size := decodeOpenReq(f.Data)
			c, oerr := rs.srv.Open(name, mode, size)
			if oerr != nil {
				writeErr(conn, oerr)
				continue
			}
			client = c
			if err := ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgStorageOpened, Data: encodeOffset(c.Pos())}); err != nil {
				return
			}

		case ipc.MsgStorageMap:
			if client == nil {
				writeErr(conn, cmn.Errorf(cmn.KindMalformed, "map before open"))
				continue
			}
			ofs, sz := decodeMapReq(f.Data)
			view, actual, merr := rs.srv.Map(client, ofs, sz)
			if merr != nil {
				writeErr(conn, merr)
				continue
			}
			resp := make([]byte, 4+actual)
			binary.BigEndian.PutUint32(resp[:4], uint32(actual))
			copy(resp[4:], view[:actual])
			if err := ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgStorageMapped, Data: resp}); err != nil {
				return
			}

		case ipc.MsgStorageSeek:
			if client == nil || len(f.Data) == 0 {
				writeErr(conn, cmn.Errorf(cmn.KindMalformed, "seek before open"))
				continue
			}
			var newOfs int64
			var serr error
			if f.Data[0] == seekDirNext {
				newOfs, serr = client.SeekNext()
			} else {
				newOfs, serr = client.SeekPrev()
			}
			if serr != nil {
				writeErr(conn, serr)
				continue
			}
			if err := ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgStorageSeeked, Data: encodeOffset(newOfs)}); err != nil {
				return
			}

		case ipc.MsgStorageCommit:
			// Writer-only: the payload is one already-framed record
			// (size+ts prefix, per export.EncodeRecord); commit is
			// implicit in Bytestream.Append, which is itself the
			// linearization point spec.md §4.3 describes.
			if client == nil {
				writeErr(conn, cmn.Errorf(cmn.KindMalformed, "commit before open"))
				continue
			}
			if aerr := client.stream.Append(f.Data); aerr != nil {
				writeErr(conn, aerr)
				continue
			}
			if err := ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgAck}); err != nil {
				return
			}

		case ipc.MsgStorageClose:
			if client != nil {
				finalOfs := int64(0)
				if len(f.Data) >= 8 {
					finalOfs = decodeOffset(f.Data)
				}
				client.Close(finalOfs)
			}
			ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgAck})
			return

		default:
			writeErr(conn, cmn.Errorf(cmn.KindMalformed, "unexpected storage rpc message type %d", f.Type))
		}
	}
}

// RemoteClient is the cross-process counterpart of Client: every method
// is one request/response round trip over a dedicated connection.
type RemoteClient struct {
	conn net.Conn
	pos  int64
}

// DialOpen connects to a STORAGE process and opens name in mode, mirroring
// Server.Open's contract across the wire.
func DialOpen(conn net.Conn, name string, mode Mode, streamSize int64) (*RemoteClient, error) {
	if err := ipc.Encode(conn, &ipc.Frame{Type: ipc.MsgStorageOpen, Data: encodeOpenReq(name, mode, streamSize)}); err != nil {
		return nil, err
	}
	f, err := ipc.Decode(conn)
	if err != nil {
		return nil, err
	}
	if f.Type == ipc.MsgStorageErr {
		return nil, cmn.Errorf(cmn.KindIO, "storage open failed: %s", string(f.Data))
	}
	return &RemoteClient{conn: conn, pos: decodeOffset(f.Data)}, nil
}

// Map requests a view of at least sz bytes at ofs; the returned bytes are
// a private copy (not memory-mapped on this side — only STORAGE mmaps
// chunk files), since the client here is in a different address space.
func (rc *RemoteClient) Map(ofs int64, sz int) ([]byte, error) {
	if err := ipc.Encode(rc.conn, &ipc.Frame{Type: ipc.MsgStorageMap, Data: encodeMapReq(ofs, sz)}); err != nil {
		return nil, err
	}
	f, err := ipc.Decode(rc.conn)
	if err != nil {
		return nil, err
	}
	if f.Type == ipc.MsgStorageErr {
		return nil, cmn.Errorf(cmn.KindIO, "storage map failed: %s", string(f.Data))
	}
	actual := binary.BigEndian.Uint32(f.Data[:4])
	view := f.Data[4 : 4+actual]
	rc.pos = ofs + int64(actual)
	return view, nil
}

// SeekNext/SeekPrev move to the neighboring chunk's first byte.
func (rc *RemoteClient) SeekNext() (int64, error) { return rc.seek(seekDirNext) }
func (rc *RemoteClient) SeekPrev() (int64, error) { return rc.seek(seekDirPrev) }

func (rc *RemoteClient) seek(dir byte) (int64, error) {
	if err := ipc.Encode(rc.conn, &ipc.Frame{Type: ipc.MsgStorageSeek, Data: []byte{dir}}); err != nil {
		return 0, err
	}
	f, err := ipc.Decode(rc.conn)
	if err != nil {
		return 0, err
	}
	if f.Type == ipc.MsgStorageErr {
		return 0, cmn.Errorf(cmn.KindIO, "storage seek failed: %s", string(f.Data))
	}
	rc.pos = decodeOffset(f.Data)
	return rc.pos, nil
}

// Append (writer-only) sends one framed record for STORAGE to append and
// commit, per export.Pipeline's RecordSink contract.
func (rc *RemoteClient) Append(frame []byte) error {
	if err := ipc.Encode(rc.conn, &ipc.Frame{Type: ipc.MsgStorageCommit, Data: frame}); err != nil {
		return err
	}
	f, err := ipc.Decode(rc.conn)
	if err != nil {
		return err
	}
	if f.Type == ipc.MsgStorageErr {
		return cmn.Errorf(cmn.KindIO, "storage append failed: %s", string(f.Data))
	}
	return nil
}

// Close sends final_ofs (ignored by readers) and ends the exchange.
func (rc *RemoteClient) Close(finalOfs int64) error {
	defer rc.conn.Close()
	if err := ipc.Encode(rc.conn, &ipc.Frame{Type: ipc.MsgStorageClose, Data: encodeOffset(finalOfs)}); err != nil {
		return err
	}
	_, err := ipc.Decode(rc.conn)
	return err
}

func (rc *RemoteClient) Pos() int64 { return rc.pos }

// RemoteSource is the cross-process RecordSource: it dials a fresh
// connection to STORAGE per OpenReader call, matching LocalSource's
// one-handle-per-call contract.
type RemoteSource struct {
	Dial func() (net.Conn, error)
}

func (r RemoteSource) OpenReader(node, module string, streamSize int64, blocking bool) (RecordReader, error) {
	conn, err := r.Dial()
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "dial storage")
	}
	mode := ModeReader
	if !blocking {
		mode = ModeReaderNonBlock
	}
	rc, err := DialOpen(conn, streamName(node, module), mode, streamSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &RemoteReaderHandle{rc: rc}, nil
}

// RemoteReaderHandle is RecordReader over a RemoteClient: the same
// header-then-body two-step ReaderHandle.Next uses against a local
// Server.Map, replayed against RemoteClient.Map instead.
type RemoteReaderHandle struct{ rc *RemoteClient }

func (r *RemoteReaderHandle) Next() (frame []byte, ok bool, err error) {
	start := r.rc.Pos()
	header, err := r.rc.Map(start, recordHeaderSize)
	if err != nil {
		return nil, false, err
	}
	if len(header) == 0 {
		return nil, false, nil
	}
	if len(header) < recordHeaderSize {
		return nil, false, cmn.Errorf(cmn.KindMalformed, "record header split across a chunk boundary")
	}
	size := recordSize(header)
	full, err := r.rc.Map(start, recordHeaderSize+size)
	if err != nil {
		return nil, false, err
	}
	if len(full) < recordHeaderSize+size {
		return nil, false, cmn.Errorf(cmn.KindMalformed, "record body split across a chunk boundary")
	}
	return full, true, nil
}

func (r *RemoteReaderHandle) Close() error { return r.rc.Close(0) }

// RemoteSink adapts a RemoteClient opened as ModeWriter to EXPORT's
// export.RecordSink interface, the cross-process counterpart of
// WriterHandle.
type RemoteSink struct{ RC *RemoteClient }

func (r RemoteSink) Append(_ string, frame []byte) error { return r.RC.Append(frame) }
