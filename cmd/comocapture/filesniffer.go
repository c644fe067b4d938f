package main

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/pkt"
)

// fileSniffer is a minimal capture.Sniffer that replays packets from a
// flat local file: {ts u64_be, caplen u32_be, wirelen u32_be,
// payload[caplen]} records back to back. Real sniffer backends
// (libpcap/BPF/hardware rings) are explicitly out of CoMo's core scope
// (spec.md §1); this exists only so `-s file,<path>` gives comocapture
// something to run against without one of those collaborators attached.
type fileSniffer struct {
	f *os.File
}

func newFileSniffer() *fileSniffer { return &fileSniffer{} }

func (s *fileSniffer) Start(src string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return -1, cmn.Wrap(cmn.KindIO, err, "open sniffer source "+src)
	}
	s.f = f
	return int(f.Fd()), nil
}

func (s *fileSniffer) Next(out []pkt.Packet, max int) (int, error) {
	n := 0
	for n < max && n < len(out) {
		hdr := make([]byte, 16)
		if _, err := io.ReadFull(s.f, hdr); err != nil {
			if err == io.EOF {
				break
			}
			return n, cmn.Wrap(cmn.KindMalformed, err, "read packet header")
		}
		ts := int64(binary.BigEndian.Uint64(hdr[0:8]))
		capLen := binary.BigEndian.Uint32(hdr[8:12])
		wireLen := binary.BigEndian.Uint32(hdr[12:16])

		payload := make([]byte, capLen)
		if _, err := io.ReadFull(s.f, payload); err != nil {
			return n, cmn.Wrap(cmn.KindMalformed, err, "read packet payload")
		}

		out[n] = pkt.Packet{
			TS:      ts,
			CapLen:  capLen,
			WireLen: wireLen,
			L2:      pkt.LayerEthernet,
			L3:      pkt.LayerIPv4,
			L3Off:   14,
			Payload: payload,
		}
		n++
	}
	return n, nil
}

func (s *fileSniffer) Stop() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
