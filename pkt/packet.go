// Package pkt holds the Packet/Batch data model from spec.md §3. It sits
// below both module (the ABI operates on Packet) and capture (the loop
// produces Batch), so neither of those packages has to import the
// other just to share this shape.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package pkt

// Layer tags the protocol found at a given offset.
type Layer uint8

const (
	LayerUnknown Layer = iota
	LayerEthernet
	LayerIPv4
	LayerIPv6
	LayerTCP
	LayerUDP
	LayerICMP
)

// Packet is immutable for the lifetime of the batch it belongs to
// (spec.md §3: "Created by a sniffer; borrowed by CAPTURE; destroyed
// when its batch is released"). TS is a fixed-point nanosecond
// timestamp, monotonic within one batch.
type Packet struct {
	TS       int64
	CapLen   uint32
	WireLen  uint32
	L2, L3, L4 Layer
	L2Off, L3Off, L4Off uint32
	Payload  []byte // full captured bytes; layer offsets index into this
}

// L4Payload returns the bytes at and after L4Off, or nil if this packet
// carries no recognized L4 layer.
func (p *Packet) L4Payload() []byte {
	if p.L4 == LayerUnknown || p.L4Off >= uint32(len(p.Payload)) {
		return nil
	}
	return p.Payload[p.L4Off:]
}

// Batch is one sniffer yield: an ordered, contiguous run of packets
// presented to every module atomically. The original ring buffer could
// split a batch into two physical segments on wraparound (spec.md §3);
// here the sniffer collaborator is responsible for presenting Packets
// as a single already-linearized sequence, so Batch need only hold one.
type Batch struct {
	Packets []Packet
}

// Len reports the number of packets in the batch.
func (b *Batch) Len() int { return len(b.Packets) }
