package protocol

import (
	"fmt"
	"time"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

// check/hash/match implement protocol.c's "no classifier" design: every
// packet in a window folds into the single aggregation cell CAPTURE
// already allocated for bucket 0.
func check(*pkt.Packet) bool                             { return true }
func hash(*pkt.Packet) uint32                             { return 0 }
func match(*pkt.Packet, module.Serializable) bool         { return true }

func protoOf(p *pkt.Packet) (uint8, bool) {
	if p.L3 != pkt.LayerIPv4 || int(p.L3Off)+10 > len(p.Payload) {
		return 0, false
	}
	return p.Payload[p.L3Off+9], true
}

func update(p *pkt.Packet, s module.Serializable, isNew bool) error {
	st, ok := s.(*Stat)
	if !ok {
		return cmn.Errorf(cmn.KindMalformed, "protocol: update against wrong Serializable type")
	}
	if isNew {
		st.TS = p.TS / int64(time.Second)
		st.Bytes = [NumProto]uint64{}
		st.Pkts = [NumProto]uint32{}
	}
	proto, ok := protoOf(p)
	if !ok {
		return nil
	}
	st.Bytes[proto] += uint64(p.WireLen)
	st.Pkts[proto]++
	return nil
}

func flush(windowStart time.Duration) (*module.IvlState, error) {
	return &module.IvlState{Start: windowStart}, nil
}

func ematch(module.Serializable, module.Serializable) bool { return false }

func export(etuple, t module.Serializable, isNew bool) error {
	e, ok := etuple.(*Stat)
	src, ok2 := t.(*Stat)
	if !ok || !ok2 {
		return cmn.Errorf(cmn.KindMalformed, "protocol: export against wrong Serializable type")
	}
	*e = *src
	return nil
}

func compare(a, b module.Serializable) int { return 0 }

func action(module.Serializable, time.Duration, int) module.ActionFlags {
	return module.ActionStore | module.ActionGo
}

func store(s module.Serializable) ([]byte, error) { return s.MarshalMsg(nil) }

func load(data []byte) (size int, ts int64, err error) {
	s := &Stat{}
	rest, err := s.UnmarshalMsg(data)
	if err != nil {
		return 0, 0, err
	}
	return len(data) - len(rest), s.TS, nil
}

// defaultProtos mirrors do_header()'s default {TCP, UDP, ICMP, ESP}
// selection; a query can widen this via args["include"] (comma-separated
// protocol numbers), handled by the caller building args before Print.
var defaultProtos = []uint8{6, 17, 1, 50}

func print(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error) {
	if record == nil {
		return nil, nil
	}
	s := &Stat{}
	if _, err := s.UnmarshalMsg(record); err != nil {
		return nil, err
	}

	switch format {
	case "plain":
		return printPlain(s), nil
	default:
		return printPretty(s, protosFromArgs(args)), nil
	}
}

func protosFromArgs(args map[string]string) []uint8 {
	if args == nil {
		return defaultProtos
	}
	if inc, ok := args["include"]; ok && inc != "" {
		out := append([]uint8{}, defaultProtos...)
		start := 0
		for i := 0; i <= len(inc); i++ {
			if i < len(inc) && inc[i] != ',' {
				continue
			}
			var n int
			if _, err := fmt.Sscanf(inc[start:i], "%d", &n); err == nil {
				out = append(out, uint8(n))
			}
			start = i + 1
		}
		return out
	}
	return defaultProtos
}

func printPlain(s *Stat) []byte {
	out := fmt.Sprintf("%d ", s.TS)
	for i := 0; i < NumProto; i++ {
		if s.Bytes[i] == 0 && s.Pkts[i] == 0 {
			continue
		}
		out += fmt.Sprintf("%3d %8d %8d ", i, s.Bytes[i], s.Pkts[i])
	}
	return []byte(out + "\n")
}

func printPretty(s *Stat, protos []uint8) []byte {
	ts := time.Unix(s.TS, 0).UTC()
	var bytesAll, pktsAll uint64
	for i := 0; i < NumProto; i++ {
		bytesAll += s.Bytes[i]
		pktsAll += uint64(s.Pkts[i])
	}
	if bytesAll == 0 {
		return nil
	}

	out := fmt.Sprintf("%s ", ts.Format(time.RFC3339))
	var bytesChosen, pktsChosen uint64
	for _, p := range protos {
		bp := 100 * float64(s.Bytes[p]) / float64(bytesAll)
		pp := float64(0)
		if pktsAll > 0 {
			pp = 100 * float64(s.Pkts[p]) / float64(pktsAll)
		}
		out += fmt.Sprintf("proto%d %.2f %.2f ", p, bp, pp)
		bytesChosen += s.Bytes[p]
		pktsChosen += uint64(s.Pkts[p])
	}
	otherBytes := 100 - 100*float64(bytesChosen)/float64(bytesAll)
	otherPkts := float64(0)
	if pktsAll > 0 {
		otherPkts = 100 - 100*float64(pktsChosen)/float64(pktsAll)
	}
	out += fmt.Sprintf("Other %.2f %.2f\n", otherBytes, otherPkts)
	return []byte(out)
}

// Builder registers the protocol module with a module.Registry.
type Builder struct {
	def *module.ModuleDef
}

func NewBuilder(flushIvl time.Duration) *Builder {
	if flushIvl <= 0 {
		flushIvl = time.Second
	}
	return &Builder{def: &module.ModuleDef{
		Name:      "protocol",
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
			return &Stat{}, nil
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
		TableSize: 1,
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
		Formats: []string{"plain", "pretty"},
	}
}
