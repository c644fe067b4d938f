// Package ipc implements the typed, framed, length-prefixed messaging
// that connects CoMo's processes over local stream sockets (spec.md
// §4.5). Grounded on _examples/original_source/src/trunk/base/ipc.c and
// src/branches/2.0/libcomo/ipc.c for the frame/handshake contract, and
// on the teacher's transport package
// (_examples/mjnovice-aistore/transport/send.go) for the idiomatic Go
// shape of a streaming session: a typed header, a work channel, and a
// callback fired on completion.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package ipc

import (
	"encoding/binary"
	"io"

	"github.com/como-project/como/cmn"
)

// PeerClass identifies what kind of process sent a frame.
type PeerClass uint8

const (
	ClassSupervisor PeerClass = iota + 1
	ClassCapture
	ClassExport
	ClassStorage
	ClassQuery
)

// MsgType is the frame's u16 type tag. Type 0 is reserved for the
// Connect handshake; every other type is registered by a process's
// handler table.
type MsgType uint16

const (
	MsgConnect MsgType = 0

	MsgSync      MsgType = 1
	MsgModuleAdd MsgType = 2
	MsgModuleDel MsgType = 3
	MsgModuleStart MsgType = 4
	MsgFreeze    MsgType = 5
	MsgAck       MsgType = 6
	MsgFlush     MsgType = 7
	MsgTuplesProcessed MsgType = 8
	MsgStatus    MsgType = 9

	// Storage client API messages (spec.md §4.3): EXPORT and QUERY are
	// STORAGE's IPC clients for the open/map/seek/commit/close surface
	// when the two live in separate processes.
	MsgStorageOpen   MsgType = 10
	MsgStorageOpened MsgType = 11
	MsgStorageMap    MsgType = 12
	MsgStorageMapped MsgType = 13
	MsgStorageSeek   MsgType = 14
	MsgStorageSeeked MsgType = 15
	MsgStorageCommit MsgType = 16
	MsgStorageClose  MsgType = 17
	MsgStorageErr    MsgType = 18
)

const (
	senderCodeLen = 4
	senderNameLen = 12
)

// SenderID is the frame header's identification of its originating
// peer: {class, parent_class, id, code[4], name[12]} from spec.md §4.5.
type SenderID struct {
	Class       PeerClass
	ParentClass PeerClass
	ID          uint16
	Code        [senderCodeLen]byte
	Name        [senderNameLen]byte
}

const senderIDSize = 1 + 1 + 2 + senderCodeLen + senderNameLen // 20 bytes

// frameHeaderSize is type(2) + SenderID(20) + len(4).
const frameHeaderSize = 2 + senderIDSize + 4

const maxFrameLen = 64 << 20 // defensive cap; a single flush/record batch never approaches this

// Frame is one IPC message. The wire format is fixed big-endian per the
// redesign flag in spec.md §9 (the original mixed host/network byte
// order across fields; this resolves that inconsistency uniformly).
type Frame struct {
	Type   MsgType
	Sender SenderID
	Data   []byte
}

// Encode writes Frame to w in the fixed wire format.
func Encode(w io.Writer, f *Frame) error {
	hdr := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(f.Type))
	off := 2
	hdr[off] = byte(f.Sender.Class)
	hdr[off+1] = byte(f.Sender.ParentClass)
	binary.BigEndian.PutUint16(hdr[off+2:off+4], f.Sender.ID)
	copy(hdr[off+4:off+4+senderCodeLen], f.Sender.Code[:])
	copy(hdr[off+4+senderCodeLen:off+4+senderCodeLen+senderNameLen], f.Sender.Name[:])
	off += senderIDSize
	binary.BigEndian.PutUint32(hdr[off:off+4], uint32(len(f.Data)))

	if _, err := w.Write(hdr); err != nil {
		return cmn.Wrap(cmn.KindPeerGone, err, "write frame header")
	}
	if len(f.Data) > 0 {
		if _, err := w.Write(f.Data); err != nil {
			return cmn.Wrap(cmn.KindPeerGone, err, "write frame payload")
		}
	}
	return nil
}

// Decode reads one Frame from r. io.EOF (including on a header-only
// read) is returned unwrapped so callers can distinguish clean peer
// close from a mid-frame truncation, which decode reports as
// KindMalformed per spec.md §7 ("partial messages cause peer teardown,
// not framework abort").
func Decode(r io.Reader) (*Frame, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, cmn.Wrap(cmn.KindMalformed, err, "truncated frame header")
	}
	f := &Frame{Type: MsgType(binary.BigEndian.Uint16(hdr[0:2]))}
	off := 2
	f.Sender.Class = PeerClass(hdr[off])
	f.Sender.ParentClass = PeerClass(hdr[off+1])
	f.Sender.ID = binary.BigEndian.Uint16(hdr[off+2 : off+4])
	copy(f.Sender.Code[:], hdr[off+4:off+4+senderCodeLen])
	copy(f.Sender.Name[:], hdr[off+4+senderCodeLen:off+4+senderCodeLen+senderNameLen])
	off += senderIDSize
	n := binary.BigEndian.Uint32(hdr[off : off+4])
	if n > maxFrameLen {
		return nil, cmn.Errorf(cmn.KindMalformed, "frame length %d exceeds max %d", n, maxFrameLen)
	}
	if n > 0 {
		f.Data = make([]byte, n)
		if _, err := io.ReadFull(r, f.Data); err != nil {
			return nil, cmn.Wrap(cmn.KindMalformed, err, "truncated frame payload")
		}
	}
	return f, nil
}
