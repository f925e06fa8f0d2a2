// Package rtpplay implements the RTP player (C9): the jitter-buffer state
// machine sitting between internal/rtpreceive's validated packet stream and
// an internal/audiobackend output, including the buffering/active
// transition, gap infill, and late-packet rejection.
package rtpplay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/richardk/disorder-audio-core/internal/audiobackend"
	"github.com/richardk/disorder-audio-core/internal/jitter"
	"github.com/richardk/disorder-audio-core/internal/wire"
)

// Config configures a Player.
type Config struct {
	Format audiobackend.Format

	// Readahead is the buffered duration required before playback starts
	// (or resumes after an underrun).
	Readahead time.Duration
	// MinBuffer is the buffered duration below which playback returns to
	// the buffering state.
	MinBuffer time.Duration
	// MaxBuffer is the buffered duration above which Push blocks,
	// back-pressuring the receiver's listen goroutine.
	MaxBuffer time.Duration

	// Dump, if non-nil, receives every byte handed to the output backend
	// (including silence infill), for offline diagnosis.
	Dump *CircularDump
}

// Player accumulates packets pushed by internal/rtpreceive into a
// timestamp-ordered heap and serves them to an audiobackend.PullFunc
// consumer, filling gaps with silence and tracking a buffering/active
// state machine.
type Player struct {
	log *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	heap *jitter.Heap
	alc  *jitter.SyncAllocator

	format   audiobackend.Format
	dump     *CircularDump
	frameLen int // bytes per frame (all channels)

	readaheadScalars uint64
	minBufferScalars uint64
	maxBufferScalars uint64

	bufferedScalars uint64
	active          bool
	nextTimestamp   uint32

	closed bool

	underruns uint64
}

// New constructs a Player using alc for packet recycling.
func New(cfg Config, alc *jitter.SyncAllocator, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	scalarRate := float64(cfg.Format.SampleRate) * float64(cfg.Format.Channels)
	p := &Player{
		log:              log.With("subsystem", "rtpplay"),
		heap:             jitter.NewHeap(),
		alc:              alc,
		format:           cfg.Format,
		dump:             cfg.Dump,
		frameLen:         cfg.Format.FrameSize(),
		readaheadScalars: uint64(cfg.Readahead.Seconds() * scalarRate),
		minBufferScalars: uint64(cfg.MinBuffer.Seconds() * scalarRate),
		maxBufferScalars: uint64(cfg.MaxBuffer.Seconds() * scalarRate),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Push inserts p into the jitter heap, blocking while the buffer is at
// capacity so the receiver's listen goroutine back-pressures the network
// rather than growing the heap without bound. Push takes ownership of p;
// it is recycled via the allocator once played or dropped.
func (pl *Player) Push(p *jitter.Packet) {
	pl.mu.Lock()
	for pl.bufferedScalars >= pl.maxBufferScalars && !pl.closed {
		pl.cond.Wait()
	}
	if pl.closed {
		pl.mu.Unlock()
		pl.alc.Put(p)
		return
	}
	pl.heap.Insert(p)
	pl.bufferedScalars += uint64(p.Samples)
	pl.mu.Unlock()
}

// ShouldDropLate reports whether a packet carrying timestamp ts arrived
// too late to ever be played, i.e. playback has already advanced past it.
// Used by internal/rtpreceive to discard stragglers before they reach the
// heap at all.
func (pl *Player) ShouldDropLate(ts uint32) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.active && jitter.Before(ts, pl.nextTimestamp)
}

// Close unblocks any Push call waiting for buffer headroom; further Push
// calls return immediately without enqueueing. Intended for shutdown.
func (pl *Player) Close() {
	pl.mu.Lock()
	pl.closed = true
	pl.cond.Broadcast()
	pl.mu.Unlock()
}

// Pull implements audiobackend.PullFunc. maxSamples is a frame count (as
// with every backend in this module); Pull always fills the full request,
// using silence for any portion not covered by buffered packets.
func (pl *Player) Pull(buf []byte, maxSamples int) int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	channels := int(pl.format.Channels)
	totalScalars := maxSamples * channels
	written := 0

	if !pl.active {
		if pl.heap.Count() > 0 && pl.bufferedScalars >= pl.readaheadScalars {
			pl.active = true
			pl.nextTimestamp = pl.heap.PeekMin().Timestamp
		} else {
			zeroFill(buf)
			return maxSamples
		}
	}

	for written < totalScalars {
		min := pl.heap.PeekMin()
		if min == nil {
			break
		}
		if jitter.Before(pl.nextTimestamp, min.Timestamp) {
			gap := int(min.Timestamp - pl.nextTimestamp)
			if gap > totalScalars-written {
				gap = totalScalars - written
			}
			zeroFillRange(buf, written, gap)
			written += gap
			pl.nextTimestamp += uint32(gap)
			continue
		}

		headOffset := int(pl.nextTimestamp - min.Timestamp)
		if headOffset >= min.Samples {
			pl.heap.RemoveMin()
			pl.bufferedScalars -= uint64(min.Samples)
			pl.alc.Put(min)
			continue
		}

		avail := min.Samples - headOffset
		take := avail
		if take > totalScalars-written {
			take = totalScalars - written
		}
		copy(buf[written*2:(written+take)*2], min.Data[headOffset*2:(headOffset+take)*2])
		// min.Data holds the packet payload exactly as received: big-endian
		// L16. Convert to host order for the local sound API / outbound mix.
		wire.SwapL16(buf[written*2 : (written+take)*2])
		written += take
		pl.nextTimestamp += uint32(take)

		if headOffset+take >= min.Samples {
			pl.heap.RemoveMin()
			pl.bufferedScalars -= uint64(min.Samples)
			pl.alc.Put(min)
		}
	}

	if written < totalScalars {
		zeroFillRange(buf, written, totalScalars-written)
	}

	if pl.bufferedScalars < pl.minBufferScalars {
		if pl.active {
			pl.underruns++
			pl.log.Debug("jitter buffer underrun, returning to buffering state",
				"buffered_scalars", pl.bufferedScalars, "min_buffer_scalars", pl.minBufferScalars)
		}
		pl.active = false
	}

	pl.cond.Broadcast()

	if pl.dump != nil {
		if _, err := pl.dump.Write(buf[:maxSamples*pl.frameLen]); err != nil {
			pl.log.Warn("diagnostic dump write failed", "error", err)
		}
	}

	return maxSamples
}

func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

func zeroFillRange(buf []byte, scalarOffset, scalarCount int) {
	for i := scalarOffset * 2; i < (scalarOffset+scalarCount)*2; i++ {
		buf[i] = 0
	}
}

// HeapDepth and BufferedSamples satisfy internal/metrics.JitterBufferProvider.
func (pl *Player) HeapDepth() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.heap.Count()
}

func (pl *Player) BufferedSamples() uint64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.bufferedScalars
}

// Underruns reports how many times playback has fallen back to the
// buffering state after having been active.
func (pl *Player) Underruns() uint64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.underruns
}
