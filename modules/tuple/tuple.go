// Package tuple implements the bundled 5-tuple flow classifier: one
// aggregation cell per (src ip, dst ip, src port, dst port, proto),
// counting bytes and packets within each capture window.
//
// Grounded on _examples/original_source/src/trunk/modules/tuple.c: the
// FLOWDESC layout, hash/match/update/store/load callbacks and the
// replay-as-synthetic-packets behavior are carried over; the C struct's
// manual byte-packing (PUTH32/PUTN32/...) becomes hand-written
// MarshalMsg/UnmarshalMsg in the msgp-codegen shape module.Serializable
// expects.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package tuple

import (
	"encoding/binary"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
)

// Size is the wire-encoded byte length of one Tuple: 4 (ts) + 4 (src ip)
// + 4 (dst ip) + 2 (src port) + 2 (dst port) + 1 (proto) + 8 (bytes) +
// 8 (pkts).
const Size = 4 + 4 + 4 + 2 + 2 + 1 + 8 + 8

// Tuple is the FLOWDESC of tuple.c re-expressed as a Go struct: the
// 5-tuple key plus the byte/packet counters accumulated across one
// capture window.
type Tuple struct {
	TS       int64
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Proto    uint8
	Bytes    uint64
	Packets  uint64
}

func New() module.Serializable { return &Tuple{} }

func (t *Tuple) MarshalMsg(b []byte) ([]byte, error) {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(t.TS))
	binary.BigEndian.PutUint32(buf[4:8], t.SrcIP)
	binary.BigEndian.PutUint32(buf[8:12], t.DstIP)
	binary.BigEndian.PutUint16(buf[12:14], t.SrcPort)
	binary.BigEndian.PutUint16(buf[14:16], t.DstPort)
	buf[16] = t.Proto
	binary.BigEndian.PutUint64(buf[17:25], t.Bytes)
	binary.BigEndian.PutUint64(buf[25:33], t.Packets)
	return append(b, buf...), nil
}

func (t *Tuple) UnmarshalMsg(bts []byte) ([]byte, error) {
	if len(bts) < Size {
		return nil, cmn.Errorf(cmn.KindMalformed, "tuple: truncated record (%d bytes)", len(bts))
	}
	t.TS = int64(binary.BigEndian.Uint32(bts[0:4]))
	t.SrcIP = binary.BigEndian.Uint32(bts[4:8])
	t.DstIP = binary.BigEndian.Uint32(bts[8:12])
	t.SrcPort = binary.BigEndian.Uint16(bts[12:14])
	t.DstPort = binary.BigEndian.Uint16(bts[14:16])
	t.Proto = bts[16]
	t.Bytes = binary.BigEndian.Uint64(bts[17:25])
	t.Packets = binary.BigEndian.Uint64(bts[25:33])
	return bts[Size:], nil
}

func (t *Tuple) Msgsize() int { return Size }

// Key is the comparable 5-tuple identity used by hash/match, independent
// of the mutable Bytes/Packets counters.
type Key struct {
	SrcIP, DstIP     uint32
	SrcPort, DstPort uint16
	Proto            uint8
}

func (t *Tuple) Key() Key {
	return Key{t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Proto}
}
