package tuple

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

func makeTCPPacket(srcIP, dstIP uint32, srcPort, dstPort uint16, wireLen uint32) *pkt.Packet {
	buf := make([]byte, 34)
	ih := buf[0:20]
	ih[9] = protoTCP
	binary.BigEndian.PutUint32(ih[12:16], srcIP)
	binary.BigEndian.PutUint32(ih[16:20], dstIP)
	th := buf[20:34]
	binary.BigEndian.PutUint16(th[0:2], srcPort)
	binary.BigEndian.PutUint16(th[2:4], dstPort)
	return &pkt.Packet{
		TS:      int64(time.Second),
		CapLen:  uint32(len(buf)),
		WireLen: wireLen,
		L3:      pkt.LayerIPv4,
		L3Off:   0,
		L4:      pkt.LayerTCP,
		L4Off:   20,
		Payload: buf,
	}
}

func TestHashMatchUpdateAggregatesSameFlow(t *testing.T) {
	b := New(time.Second)
	ops := b.BuildCapture()

	p1 := makeTCPPacket(1, 2, 80, 12345, 100)
	p2 := makeTCPPacket(1, 2, 80, 12345, 50)
	p3 := makeTCPPacket(1, 2, 443, 12345, 999) // different flow

	if ops.Hash(p1) != ops.Hash(p2) {
		t.Fatalf("identical flows hashed differently")
	}

	tup := b.Def().NewTuple()
	_ = ops.Update(p1, tup, true)
	if !ops.Match(p1, tup) {
		t.Fatalf("tuple should match the packet that populated it")
	}
	if ops.Match(p3, tup) {
		t.Fatalf("tuple should not match an unrelated flow")
	}

	_ = ops.Update(p2, tup, false)
	got := tup.(*Tuple)
	if got.Bytes != 150 || got.Packets != 2 {
		t.Fatalf("aggregation = {bytes=%d pkts=%d}, want {150 2}", got.Bytes, got.Packets)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	orig := &Tuple{TS: 1000, SrcIP: 1, DstIP: 2, SrcPort: 80, DstPort: 12345, Proto: protoTCP, Bytes: 150, Packets: 2}
	ok, err := module.RoundTrip(orig, New)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if !ok {
		t.Fatalf("round trip failed to reproduce the original encoding")
	}
}

func TestReplayProducesPacketsSummingToOriginalBytes(t *testing.T) {
	orig := &Tuple{TS: 5, SrcIP: 1, DstIP: 2, SrcPort: 1, DstPort: 2, Proto: protoUDP, Bytes: 103, Packets: 3}
	buf, _ := orig.MarshalMsg(nil)

	pkts, err := replay(buf)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(pkts) != 3 {
		t.Fatalf("len(pkts) = %d, want 3", len(pkts))
	}
	var total uint32
	for _, p := range pkts {
		total += p.WireLen
	}
	if total != 103 {
		t.Fatalf("replayed packet lengths sum to %d, want 103", total)
	}
}

func TestCompareOrdersByBytesDescending(t *testing.T) {
	a := &Tuple{Bytes: 10}
	bb := &Tuple{Bytes: 20}
	if compare(a, bb) <= 0 {
		t.Fatalf("compare(smaller, larger) should be positive")
	}
	if compare(bb, a) >= 0 {
		t.Fatalf("compare(larger, smaller) should be negative")
	}
}
