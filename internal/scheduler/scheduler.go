// Package scheduler implements the playback scheduler (C4): the
// rate-governing layer sitting between a non-self-clocked backend (RTP,
// a subprocess pipe) and its audio source, ensuring data is produced at
// exactly the playback rate regardless of pause state.
//
// The algorithm is ported directly from the reference implementation's
// scheduling code: Synchronize corresponds to uaudio_schedule_synchronize,
// Update to uaudio_schedule_update, and Reactivate to setting the
// reactivated flag before the next Synchronize call.
package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// TimeSource abstracts wall-clock access so tests can drive the scheduler
// without real sleeps.
type TimeSource interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// systemClock is the production TimeSource, backed by the time package.
type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Scheduler tracks the sample-index timestamp and wall-clock anchor
// driving playback pacing. It is not safe for
// concurrent use; the backend that owns it serializes calls to
// Synchronize/Update/Reactivate itself (typically from a single
// backend-owned thread).
type Scheduler struct {
	rate     uint32 // sample rate in Hz
	channels uint32

	timestamp     uint64
	anchor        time.Time
	anchorSet     bool
	reactivated   bool
	delayThresh   time.Duration
	clock         TimeSource
	activateGate  *rate.Limiter
	activateAllow time.Time
}

// New returns a Scheduler for the given sample rate and channel count.
// delayThreshold is the minimum amount of "ahead of schedule" time the
// rate limiter tolerates before sleeping.
func New(sampleRate, channels uint32, delayThreshold time.Duration) *Scheduler {
	return NewWithClock(sampleRate, channels, delayThreshold, systemClock{})
}

// NewWithClock is New with an injectable TimeSource, for deterministic tests.
func NewWithClock(sampleRate, channels uint32, delayThreshold time.Duration, clock TimeSource) *Scheduler {
	s := &Scheduler{
		rate:        sampleRate,
		channels:    channels,
		delayThresh: delayThreshold,
		clock:       clock,
		// One activation attempt per interval after a transient failure;
		// burst of 1 means no attempt is allowed until the interval elapses.
		activateGate: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	return s
}

// Reactivate marks the scheduler so the next Synchronize call resynchronizes
// the timestamp against elapsed wall-clock time, as happens after any period
// of backend deactivation (including pause/resume and startup).
func (s *Scheduler) Reactivate() {
	s.reactivated = true
}

// Timestamp returns the current sample-index timestamp (64-bit; truncate
// to 32 bits for the RTP wire format).
func (s *Scheduler) Timestamp() uint64 {
	return s.timestamp
}

// Synchronize must be called before producing each packet. It sleeps as
// necessary to rate-limit production to the playback rate, and on
// reactivation advances the timestamp to account for the dead air, never
// retreating it.
func (s *Scheduler) Synchronize() {
	for {
		now := s.clock.Now()

		if s.reactivated {
			if !s.anchorSet {
				s.anchor = now
				s.anchorSet = true
			}
			delta := now.Sub(s.anchor)
			if delta < 0 {
				s.clock.Sleep(-delta)
				continue
			}
			update := uint64(delta.Microseconds()) * uint64(s.rate) * uint64(s.channels) / 1_000_000
			update -= update % uint64(s.channels) // don't throw off channel sync
			s.timestamp += update
			s.anchor = now
			s.reactivated = false
			return
		}

		ahead := s.anchor.Sub(now)
		if ahead > s.delayThresh {
			s.clock.Sleep(ahead - s.delayThresh/2)
			continue
		}
		return
	}
}

// Update must be called after producing a packet of the given sample
// count (total samples across all channels). It advances the anchor and timestamp by the time/sample count
// actually sent.
func (s *Scheduler) Update(samples int) {
	s.timestamp += uint64(samples)
	seconds := float64(samples) / (float64(s.rate) * float64(s.channels))
	s.anchor = s.anchor.Add(time.Duration(seconds * float64(time.Second)))
}

// AllowReactivationAttempt reports whether a backend may attempt to
// reactivate after a transient activation failure, gated by a token
// bucket rather than a hand-rolled timer, suppressing further activation
// attempts for a brief interval.
func (s *Scheduler) AllowReactivationAttempt() bool {
	return s.activateGate.Allow()
}
