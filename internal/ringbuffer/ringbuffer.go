// Package ringbuffer implements the fixed-capacity byte ring buffer used
// by the speaker engine's per-track buffers and by backends that need a
// secondary buffer to decouple producer and consumer timing.
//
// A Buffer has a single producer and a single consumer operating in
// disjoint phases; it performs no locking of its own; no operation blocks.
// Callers that need cross-goroutine visibility (the speaker engine's
// playback callback vs. its mainloop) must supply their own mutex, per the
// single-playback-mutex discipline described in the package that owns the
// track.
package ringbuffer

// Buffer is a fixed-capacity byte buffer with wrap-around, represented as
// a start offset and a length rather than separate read/write cursors.
type Buffer struct {
	data   []byte
	start  int
	length int
}

// New returns a Buffer with the given capacity in bytes. Capacity must be
// at least 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("ringbuffer: capacity must be at least 1")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Capacity returns the buffer's total capacity in bytes.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Len returns the number of bytes currently occupying the buffer.
func (b *Buffer) Len() int {
	return b.length
}

// Free returns the number of bytes of free space available to Write.
func (b *Buffer) Free() int {
	return len(b.data) - b.length
}

// Write copies as much of src as fits into the buffer's free space,
// wrapping at the end of the underlying array, and returns the number of
// bytes actually written. It never blocks and never returns an error: a
// partial or zero write simply means the buffer is full.
func (b *Buffer) Write(src []byte) int {
	free := b.Free()
	n := len(src)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	writeAt := (b.start + b.length) % len(b.data)
	first := len(b.data) - writeAt
	if first > n {
		first = n
	}
	copy(b.data[writeAt:writeAt+first], src[:first])
	if n > first {
		copy(b.data[0:n-first], src[first:n])
	}

	b.length += n
	return n
}

// PeekContiguous returns the largest contiguous readable span starting at
// the current consumer offset, without advancing it. The caller must call
// Consume with the number of bytes it actually used from the returned
// slice (which may be less than its length).
func (b *Buffer) PeekContiguous() []byte {
	if b.length == 0 {
		return nil
	}
	span := len(b.data) - b.start
	if span > b.length {
		span = b.length
	}
	return b.data[b.start : b.start+span]
}

// Consume advances the consumer offset by n bytes, which must not exceed
// Len(). It is the caller's responsibility to have actually read those
// bytes from a prior PeekContiguous call (or equivalent).
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.length {
		panic("ringbuffer: Consume out of range")
	}
	b.start = (b.start + n) % len(b.data)
	b.length -= n
}

// Reset empties the buffer, discarding any buffered data.
func (b *Buffer) Reset() {
	b.start = 0
	b.length = 0
}
