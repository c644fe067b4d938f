package tuple

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// extractKey reads the 5-tuple straight out of the packet's captured
// bytes at the layer offsets the sniffer already located, mirroring
// tuple.c's hash()/match() use of the IP()/TCP()/UDP() field accessors.
func extractKey(p *pkt.Packet) (Key, bool) {
	if p.L3 != pkt.LayerIPv4 || int(p.L3Off)+20 > len(p.Payload) {
		return Key{}, false
	}
	ih := p.Payload[p.L3Off:]
	proto := ih[9]
	srcIP := binary.BigEndian.Uint32(ih[12:16])
	dstIP := binary.BigEndian.Uint32(ih[16:20])

	var srcPort, dstPort uint16
	switch proto {
	case protoTCP, protoUDP:
		if int(p.L4Off)+4 > len(p.Payload) {
			return Key{}, false
		}
		th := p.Payload[p.L4Off:]
		srcPort = binary.BigEndian.Uint16(th[0:2])
		dstPort = binary.BigEndian.Uint16(th[2:4])
	}
	return Key{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, Proto: proto}, true
}

func check(p *pkt.Packet) bool {
	_, ok := extractKey(p)
	return ok
}

func hash(p *pkt.Packet) uint32 {
	k, ok := extractKey(p)
	if !ok {
		return 0
	}
	return k.SrcIP ^ k.DstIP ^ uint32(k.SrcPort)<<3 ^ uint32(k.DstPort)<<3
}

func match(p *pkt.Packet, s module.Serializable) bool {
	k, ok := extractKey(p)
	if !ok {
		return false
	}
	t, ok := s.(*Tuple)
	return ok && t.Key() == k
}

func update(p *pkt.Packet, s module.Serializable, isNew bool) error {
	t, ok := s.(*Tuple)
	if !ok {
		return cmn.Errorf(cmn.KindMalformed, "tuple: update against wrong Serializable type")
	}
	if isNew {
		k, _ := extractKey(p)
		t.TS = p.TS / int64(time.Second)
		t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Proto = k.SrcIP, k.DstIP, k.SrcPort, k.DstPort, k.Proto
	}
	t.Bytes += uint64(p.WireLen)
	t.Packets++
	return nil
}

func flush(windowStart time.Duration) (*module.IvlState, error) {
	return &module.IvlState{Start: windowStart}, nil
}

// Export-stage: tuple has no further aggregation (ex_recordsize: 0 in
// the original — every capture-stage tuple becomes exactly one
// export-stage e-tuple), so EMatch never merges and Export just copies.
func ematch(module.Serializable, module.Serializable) bool { return false }

func export(etuple, t module.Serializable, isNew bool) error {
	e, ok := etuple.(*Tuple)
	src, ok2 := t.(*Tuple)
	if !ok || !ok2 {
		return cmn.Errorf(cmn.KindMalformed, "tuple: export against wrong Serializable type")
	}
	*e = *src
	return nil
}

func compare(a, b module.Serializable) int {
	ta, tb := a.(*Tuple), b.(*Tuple)
	switch {
	case ta.Bytes > tb.Bytes:
		return -1
	case ta.Bytes < tb.Bytes:
		return 1
	default:
		return 0
	}
}

func action(module.Serializable, time.Duration, int) module.ActionFlags {
	return module.ActionStore | module.ActionGo
}

func store(s module.Serializable) ([]byte, error) {
	return s.MarshalMsg(nil)
}

func load(data []byte) (size int, ts int64, err error) {
	t := &Tuple{}
	rest, err := t.UnmarshalMsg(data)
	if err != nil {
		return 0, 0, err
	}
	return len(data) - len(rest), t.TS, nil
}

func print(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error) {
	if record == nil {
		return printHeader(format)
	}
	t := &Tuple{}
	if _, err := t.UnmarshalMsg(record); err != nil {
		return nil, err
	}
	src := net.IPv4(byte(t.SrcIP>>24), byte(t.SrcIP>>16), byte(t.SrcIP>>8), byte(t.SrcIP)).String()
	dst := net.IPv4(byte(t.DstIP>>24), byte(t.DstIP>>16), byte(t.DstIP>>8), byte(t.DstIP)).String()
	ts := time.Unix(t.TS, 0).UTC()

	switch format {
	case "html":
		return []byte(fmt.Sprintf("<tr><td>%s</td><td>%d</td><td>%s:%d</td><td>%s:%d</td><td>%d</td><td>%d</td></tr>\n",
			ts.Format(time.RFC3339), t.Proto, src, t.SrcPort, dst, t.DstPort, t.Bytes, t.Packets)), nil
	case "plain":
		return []byte(fmt.Sprintf("%d %d %s %d %s %d %d %d\n",
			t.TS, t.Proto, src, t.SrcPort, dst, t.DstPort, t.Bytes, t.Packets)), nil
	default:
		return []byte(fmt.Sprintf("%s %3d %15s:%-5d %15s:%-5d %8d %8d\n",
			ts.Format(time.RFC3339), t.Proto, src, t.SrcPort, dst, t.DstPort, t.Bytes, t.Packets)), nil
	}
}

func printHeader(format string) ([]byte, error) {
	switch format {
	case "html":
		return []byte("<table>\n<tr><td>Time</td><td>Proto</td><td>Src</td><td>Dst</td><td>Bytes</td><td>Pkts</td></tr>\n"), nil
	case "plain":
		return nil, nil
	default:
		return []byte("Date                     Proto Source IP:Port      Destination IP:Port   Bytes    Packets\n"), nil
	}
}

// replay turns one stored Tuple back into npkts synthetic packets with
// equal average length, per tuple.c's replay(): good enough to drive a
// downstream module that only cares about arrival cadence and size, not
// original payload bytes (which were never stored).
func replay(record []byte) ([]pkt.Packet, error) {
	t := &Tuple{}
	if _, err := t.UnmarshalMsg(record); err != nil {
		return nil, err
	}
	if t.Packets == 0 {
		return nil, nil
	}
	avg := t.Bytes / t.Packets
	rem := t.Bytes % t.Packets
	ts := t.TS * int64(time.Second)

	out := make([]pkt.Packet, 0, t.Packets)
	for i := uint64(0); i < t.Packets; i++ {
		wire := uint32(avg)
		if i == t.Packets-1 {
			wire += uint32(rem)
		}
		out = append(out, pkt.Packet{
			TS:      ts,
			CapLen:  wire,
			WireLen: wire,
			L3:      pkt.LayerIPv4,
		})
	}
	return out, nil
}

// Builder registers the tuple module with a module.Registry.
type Builder struct {
	def *module.ModuleDef
}

// New constructs a Builder with the given flush interval, defaulting to
// one second the way tuple.c's init() does absent an "interval=" arg.
func New(flushIvl time.Duration) *Builder {
	if flushIvl <= 0 {
		flushIvl = time.Second
	}
	return &Builder{def: &module.ModuleDef{
		Name:      "tuple",
		FlushIvl:  flushIvl,
		NewTuple:  New,
		NewETuple: New,
		NewRecord: New,
	}}
}

func (b *Builder) Def() *module.ModuleDef { return b.def }

func (b *Builder) BuildSupervisor() *module.SupervisorOps {
	return &module.SupervisorOps{
		Init: func(args map[string]string) (module.Serializable, error) {
			return &Tuple{}, nil
		},
	}
}

func (b *Builder) BuildCapture() *module.CaptureOps {
	return &module.CaptureOps{
		Check:     check,
		Hash:      hash,
		Match:     match,
		Update:    update,
		Flush:     flush,
		TableSize: 4096,
	}
}

func (b *Builder) BuildExport() *module.ExportOps {
	return &module.ExportOps{
		EMatch:  ematch,
		Export:  export,
		Compare: compare,
		Action:  action,
		Store:   store,
	}
}

func (b *Builder) BuildQuery() *module.QueryOps {
	return &module.QueryOps{
		Load:    load,
		Print:   print,
		Replay:  replay,
		Formats: []string{"pretty", "plain", "html"},
	}
}
