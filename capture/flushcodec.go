package capture

import (
	"encoding/binary"
	"time"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
)

func durationFromWire(v uint64) time.Duration { return time.Duration(v) }

// EncodeFlushEnvelope prefixes an EncodeFlush payload with the
// originating module's name, so a single MsgFlush connection shared by
// every attached module (spec.md §4.5: "per-peer FIFO") can be
// demultiplexed on the EXPORT side without a dedicated socket per
// module.
func EncodeFlushEnvelope(moduleName string, window Window, tuples []module.Serializable) ([]byte, error) {
	body, err := EncodeFlush(window, tuples)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+len(moduleName)+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(moduleName)))
	off := 2
	copy(buf[off:], moduleName)
	off += len(moduleName)
	copy(buf[off:], body)
	return buf, nil
}

// DecodeFlushEnvelope splits the module name back out, returning the
// remaining bytes for DecodeFlush.
func DecodeFlushEnvelope(data []byte) (moduleName string, rest []byte, err error) {
	if len(data) < 2 {
		return "", nil, cmn.Errorf(cmn.KindMalformed, "flush envelope too short")
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if len(data) < 2+int(n) {
		return "", nil, cmn.Errorf(cmn.KindMalformed, "flush envelope: truncated module name")
	}
	return string(data[2 : 2+n]), data[2+n:], nil
}

// EncodeFlush serializes a frozen window's tuples for the MsgFlush IPC
// payload CAPTURE ships to EXPORT at a window boundary (spec.md §4.2:
// "serialized tuples ... cross-process copy using the module's
// Serializable"). Wire shape: u64 window-start, u64 window-end, u32
// count, then count * (u32 len, bytes).
func EncodeFlush(window Window, tuples []module.Serializable) ([]byte, error) {
	encoded := make([][]byte, len(tuples))
	total := 8 + 8 + 4
	for i, t := range tuples {
		b, err := t.MarshalMsg(nil)
		if err != nil {
			return nil, cmn.Wrap(cmn.KindIO, err, "marshal flushed tuple")
		}
		encoded[i] = b
		total += 4 + len(b)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint64(buf[0:8], uint64(window.Start))
	binary.BigEndian.PutUint64(buf[8:16], uint64(window.End))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(tuples)))
	off := 20
	for _, b := range encoded {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(b)))
		off += 4
		copy(buf[off:], b)
		off += len(b)
	}
	return buf, nil
}

// DecodeFlush reverses EncodeFlush, using fresh to allocate each
// tuple before unmarshaling into it.
func DecodeFlush(data []byte, fresh module.Factory) (Window, []module.Serializable, error) {
	if len(data) < 20 {
		return Window{}, nil, cmn.Errorf(cmn.KindMalformed, "flush message too short")
	}
	window := Window{
		Start: durationFromWire(binary.BigEndian.Uint64(data[0:8])),
		End:   durationFromWire(binary.BigEndian.Uint64(data[8:16])),
	}
	count := binary.BigEndian.Uint32(data[16:20])
	off := 20

	tuples := make([]module.Serializable, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(data) {
			return Window{}, nil, cmn.Errorf(cmn.KindMalformed, "flush message: truncated tuple length")
		}
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+n > len(data) {
			return Window{}, nil, cmn.Errorf(cmn.KindMalformed, "flush message: truncated tuple body")
		}
		t := fresh()
		if _, err := t.UnmarshalMsg(data[off : off+n]); err != nil {
			return Window{}, nil, cmn.Wrap(cmn.KindMalformed, err, "unmarshal flushed tuple")
		}
		tuples = append(tuples, t)
		off += n
	}
	return window, tuples, nil
}
