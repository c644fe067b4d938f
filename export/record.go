package export

import (
	"encoding/binary"

	"github.com/como-project/como/cmn"
)

// recordHeaderSize is the on-disk framing STORAGE and QUERY agree on for
// every record, independent of the module-specific payload inside it:
// a 4-byte big-endian length followed by an 8-byte big-endian timestamp.
const recordHeaderSize = 12

// EncodeRecord frames a module's Store() output with the length+
// timestamp header the bytestream format (spec.md §4.4) and QUERY's Load
// both expect.
func EncodeRecord(ts int64, payload []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[4:12], uint64(ts))
	copy(buf[recordHeaderSize:], payload)
	return buf
}

// DecodeRecord splits a framed record back into its declared size,
// timestamp and payload, validating that buf actually holds that many
// payload bytes (the length-declaration law from spec.md §8 applied to
// the record frame itself, not just the module's own Serializable).
func DecodeRecord(buf []byte) (ts int64, payload []byte, rest []byte, err error) {
	if len(buf) < recordHeaderSize {
		return 0, nil, nil, cmn.Errorf(cmn.KindMalformed, "record: truncated header (%d bytes)", len(buf))
	}
	size := binary.BigEndian.Uint32(buf[0:4])
	ts = int64(binary.BigEndian.Uint64(buf[4:12]))
	end := recordHeaderSize + int(size)
	if len(buf) < end {
		return 0, nil, nil, cmn.Errorf(cmn.KindMalformed, "record: declared size %d exceeds buffer", size)
	}
	return ts, buf[recordHeaderSize:end], buf[end:], nil
}
