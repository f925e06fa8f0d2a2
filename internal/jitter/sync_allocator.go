package jitter

import "sync"

// SyncAllocator wraps an Allocator with a mutex, for the common case where
// the listen-side goroutine and the playback-side goroutine both need to
// Get and Put packets. Allocator itself stays lock-free for callers (such
// as tests) that only ever touch it from one goroutine.
type SyncAllocator struct {
	mu  sync.Mutex
	alc Allocator
}

// NewSyncAllocator returns an empty, ready-to-use SyncAllocator.
func NewSyncAllocator() *SyncAllocator {
	return &SyncAllocator{}
}

// Get returns a *Packet, safe for concurrent use.
func (s *SyncAllocator) Get() *Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alc.Get()
}

// Put returns p to the free list, safe for concurrent use.
func (s *SyncAllocator) Put(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alc.Put(p)
}
