// Package jitter provides the receive-side packet storage for the RTP
// player: a slab/free-list allocator for fixed-size packet records (C3)
// and a binary min-heap ordering them by sample-index timestamp under
// RTP sequence-space arithmetic (C2).
package jitter

// MaxInlineSamples bounds the payload a Packet can carry inline: 2048 L16
// samples, well above the 700 samples (1400 payload bytes) of the largest
// packet internal/rtptransmit sends.
const MaxInlineSamples = 2048

// Flag bits carried alongside a Packet's header fields.
const (
	// FlagIdle marks a packet whose marker bit indicated a resume after a
	// pause/silence gap.
	FlagIdle uint8 = 1 << iota
)

// Packet is one received RTP payload, sized and reused by the Allocator
// below rather than garbage-collected per packet, to bound the receiver's
// working set under steady-state churn.
type Packet struct {
	// Timestamp is the sample-index timestamp of the first sample in
	// this packet (the RTP header's 32-bit timestamp field).
	Timestamp uint32
	// Samples is the number of samples actually stored in Data.
	Samples int
	// Flags holds bits such as FlagIdle.
	Flags uint8
	// Data holds up to MaxInlineSamples*2 bytes (16-bit samples) inline;
	// only Data[:Samples*2] is valid.
	Data [MaxInlineSamples * 2]byte

	next *Packet // free-list link; owned by Allocator
}

// End returns the sample-index timestamp one past the last sample in this
// packet.
func (p *Packet) End() uint32 {
	return p.Timestamp + uint32(p.Samples)
}

// Contains reports whether the sample at the given timestamp falls within
// this packet's span, under sequence-space ordering.
func (p *Packet) Contains(ts uint32) bool {
	return !Before(ts, p.Timestamp) && Before(ts, p.End())
}

// slabSize is the number of packet records allocated per slab.
const slabSize = 1024

// Allocator is a free-list-backed allocator for *Packet records. It
// maintains a bump pointer into a slab of slabSize records; on exhaustion
// of both the free list and the current slab, it allocates a fresh slab.
// Allocator is not safe for concurrent use by itself — callers hold the
// dedicated allocator mutex described in the package wiring these pieces
// together (the allocator mutex is always a leaf: it is never held while
// acquiring any other lock).
type Allocator struct {
	free    *Packet
	slab    []Packet
	slabPos int
}

// NewAllocator returns an empty Allocator; its first slab is created
// lazily on the first Get call.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Get returns a *Packet from the free list, falling back to the bump
// pointer into the current slab, falling back to allocating a fresh slab.
// The returned packet's fields are not zeroed except Flags and Samples;
// callers must set Timestamp, Samples, Flags, and the relevant prefix of
// Data before use.
func (a *Allocator) Get() *Packet {
	if a.free != nil {
		p := a.free
		a.free = p.next
		p.next = nil
		p.Flags = 0
		p.Samples = 0
		return p
	}

	if a.slab == nil || a.slabPos >= len(a.slab) {
		a.slab = make([]Packet, slabSize)
		a.slabPos = 0
	}
	p := &a.slab[a.slabPos]
	a.slabPos++
	return p
}

// Put returns p to the free list for reuse.
func (a *Allocator) Put(p *Packet) {
	p.next = a.free
	a.free = p
}
