// Package protocol implements the bundled per-IP-protocol byte/packet
// counter: a single aggregation cell per capture window, with 256
// protocol-indexed slots (spec.md §3's tuple_stat, generalized: constant
// check/hash/match callbacks mean every packet in the window folds into
// the same one tuple, per protocol.c's design).
//
// Grounded on _examples/original_source/src/trunk/modules/protocol.c.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package protocol

import (
	"encoding/binary"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
)

// NumProto is IPPROTO_MAX in the original: the IP protocol field is one
// byte, so 256 slots cover every possible value.
const NumProto = 256

// Size is the wire-encoded length: 8 (ts) + 256*8 (bytes) + 256*4 (pkts).
const Size = 8 + NumProto*8 + NumProto*4

// Stat is one capture window's byte/packet counters, indexed by IP
// protocol number.
type Stat struct {
	TS    int64
	Bytes [NumProto]uint64
	Pkts  [NumProto]uint32
}

func New() module.Serializable { return &Stat{} }

func (s *Stat) MarshalMsg(b []byte) ([]byte, error) {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.TS))
	off := 8
	for i := 0; i < NumProto; i++ {
		binary.BigEndian.PutUint64(buf[off:off+8], s.Bytes[i])
		off += 8
	}
	for i := 0; i < NumProto; i++ {
		binary.BigEndian.PutUint32(buf[off:off+4], s.Pkts[i])
		off += 4
	}
	return append(b, buf...), nil
}

func (s *Stat) UnmarshalMsg(bts []byte) ([]byte, error) {
	if len(bts) < Size {
		return nil, cmn.Errorf(cmn.KindMalformed, "protocol: truncated record (%d bytes)", len(bts))
	}
	s.TS = int64(binary.BigEndian.Uint64(bts[0:8]))
	off := 8
	for i := 0; i < NumProto; i++ {
		s.Bytes[i] = binary.BigEndian.Uint64(bts[off : off+8])
		off += 8
	}
	for i := 0; i < NumProto; i++ {
		s.Pkts[i] = binary.BigEndian.Uint32(bts[off : off+4])
		off += 4
	}
	return bts[Size:], nil
}

func (s *Stat) Msgsize() int { return Size }
