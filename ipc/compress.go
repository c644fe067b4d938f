package ipc

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v3"

	"github.com/como-project/como/cmn"
)

// Compression mirrors the knob the teacher's transport.Stream exposes
// as Extra.Compression: negotiated once at Connect, then applied by
// Peer.Send to every later frame that carries a payload, whatever its
// message type (spec.md §4.5 NEW).
type Compression int

const (
	CompressNone Compression = iota
	CompressLZ4
)

// CompressPayload lz4-block-compresses data, prefixing the real
// (uncompressed) length as a big-endian u32 so DecompressPayload knows
// how large a buffer to allocate.
func CompressPayload(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "lz4 compress")
	}
	if n == 0 {
		// lz4.CompressBlock returns n==0 when the input was incompressible
		// under its table; fall back to storing it verbatim, marked by
		// incompressibleFlag (bit 31) in the length prefix, which
		// DecompressPayload checks.
		out := make([]byte, 4+len(data))
		binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
		copy(out[4:], data)
		binary.BigEndian.PutUint32(out[:4], uint32(len(data))|incompressibleFlag)
		return out, nil
	}
	out := make([]byte, 4+n)
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], buf[:n])
	return out, nil
}

const incompressibleFlag = uint32(1) << 31

// DecompressPayload reverses CompressPayload.
func DecompressPayload(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, cmn.Errorf(cmn.KindMalformed, "compressed payload too short")
	}
	rawLen := binary.BigEndian.Uint32(data[:4])
	if rawLen&incompressibleFlag != 0 {
		n := rawLen &^ incompressibleFlag
		if uint32(len(data)-4) != n {
			return nil, cmn.Errorf(cmn.KindMalformed, "incompressible payload length mismatch")
		}
		out := make([]byte, n)
		copy(out, data[4:])
		return out, nil
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindMalformed, err, "lz4 decompress")
	}
	if uint32(n) != rawLen {
		return nil, cmn.Errorf(cmn.KindMalformed, "lz4 decompressed length mismatch: got %d want %d", n, rawLen)
	}
	return out, nil
}

// negotiateCompression is called with both peers' Connect payloads
// (a single byte: 0 = none, 1 = lz4) and returns the compression both
// sides agreed to use for the rest of the connection.
func negotiateCompression(local, remote byte) Compression {
	if local == byte(CompressLZ4) && remote == byte(CompressLZ4) {
		return CompressLZ4
	}
	return CompressNone
}
