package jitter

// Before reports whether a precedes b under RFC3550 sequence-space
// arithmetic: a < b iff (a - b) mod 2^32 is in [2^31, 2^32), i.e. the
// unsigned difference b-a is "small" (less than half the space). This
// gives correct ordering across the 32-bit wrap for any window under
// 2^31 samples, which every use in this module stays well within.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Heap is a binary min-heap of *Packet ordered by Timestamp under
// sequence-space comparison. It is not safe for concurrent use; callers
// hold the single playback mutex around every operation, per the package
// wiring this together.
type Heap struct {
	items []*Packet
}

// NewHeap returns an empty Heap.
func NewHeap() *Heap {
	return &Heap{}
}

// Count returns the number of packets currently stored in the heap.
func (h *Heap) Count() int {
	return len(h.items)
}

// PeekMin returns the packet with the smallest timestamp, or nil if the
// heap is empty. It does not remove the packet.
func (h *Heap) PeekMin() *Packet {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// Insert adds p to the heap.
func (h *Heap) Insert(p *Packet) {
	h.items = append(h.items, p)
	h.siftUp(len(h.items) - 1)
}

// RemoveMin removes and returns the packet with the smallest timestamp.
// Calling RemoveMin on an empty heap is a programming error and panics;
// callers must check Count() first.
func (h *Heap) RemoveMin() *Packet {
	if len(h.items) == 0 {
		panic("jitter: RemoveMin called on empty heap")
	}
	min := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items[last] = nil
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return min
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !Before(h.items[i].Timestamp, h.items[parent].Timestamp) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap) siftDown(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		right := 2*i + 2
		smallest := i
		if left < n && Before(h.items[left].Timestamp, h.items[smallest].Timestamp) {
			smallest = left
		}
		if right < n && Before(h.items[right].Timestamp, h.items[smallest].Timestamp) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
