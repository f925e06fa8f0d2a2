package scheduler

import (
	"testing"
	"time"
)

// fakeClock is a manually-advanced TimeSource: Sleep just advances the
// clock by the requested duration instead of blocking, so tests run
// instantly and deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func newTestScheduler(rate, channels uint32) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewWithClock(rate, channels, 100*time.Millisecond, clock)
	return s, clock
}

func TestUpdateAdvancesTimestampBySampleCount(t *testing.T) {
	s, _ := newTestScheduler(44100, 2)
	s.Reactivate()
	s.Synchronize()

	before := s.Timestamp()
	s.Update(4410) // 2205 frames
	if got, want := s.Timestamp(), before+4410; got != want {
		t.Fatalf("Timestamp() = %d, want %d", got, want)
	}
}

func TestUpdateAdvancesAnchorBySecondsEquivalent(t *testing.T) {
	s, clock := newTestScheduler(44100, 2)
	s.Reactivate()
	s.Synchronize()

	anchorBefore := s.anchor
	s.Update(44100 * 2) // exactly one second of stereo frames
	wantAnchor := anchorBefore.Add(time.Second)
	if !s.anchor.Equal(wantAnchor) {
		t.Fatalf("anchor advanced to %v, want %v", s.anchor, wantAnchor)
	}
	_ = clock
}

func TestSynchronizeWithoutReactivationDoesNotRetreatTimestamp(t *testing.T) {
	s, clock := newTestScheduler(44100, 2)
	s.Reactivate()
	s.Synchronize()
	s.Update(1000)
	ts := s.Timestamp()

	// A plain Synchronize (no Reactivate) must never touch the timestamp,
	// only gate on wall-clock lead time.
	clock.now = clock.now.Add(time.Millisecond)
	s.Synchronize()
	if s.Timestamp() != ts {
		t.Fatalf("Timestamp() changed from %d to %d on a non-reactivated Synchronize", ts, s.Timestamp())
	}
}

func TestReactivateAfterLongPauseResynchronizesWithoutRetreating(t *testing.T) {
	s, clock := newTestScheduler(44100, 2)
	s.Reactivate()
	s.Synchronize()
	s.Update(44100 * 2) // one second's worth sent
	tsAfterFirstSecond := s.Timestamp()

	// Simulate a pause: wall clock moves far ahead of the anchor, well past
	// any sane delay threshold, then playback resumes and reactivates.
	clock.now = clock.now.Add(10 * time.Second)
	s.Reactivate()
	s.Synchronize()

	if s.Timestamp() < tsAfterFirstSecond {
		t.Fatalf("Timestamp() retreated from %d to %d across reactivation", tsAfterFirstSecond, s.Timestamp())
	}
	// Update had already carried the anchor one second ahead, so the clock
	// now leads the anchor by 9 s: the jump should correspond to roughly
	// 9 seconds of stereo frames.
	wantDelta := uint64(9 * 44100 * 2)
	gotDelta := s.Timestamp() - tsAfterFirstSecond
	diff := int64(gotDelta) - int64(wantDelta)
	if diff < -100 || diff > 100 {
		t.Fatalf("reactivation advanced timestamp by %d, want close to %d", gotDelta, wantDelta)
	}
}

func TestSynchronizeSleepsWhenAheadOfSchedule(t *testing.T) {
	s, clock := newTestScheduler(44100, 2)
	s.Reactivate()
	s.Synchronize()

	// Push the anchor well ahead of "now" to simulate a producer that is
	// running fast; Synchronize must sleep (advance the fake clock) until
	// it's back within the delay threshold.
	s.anchor = clock.now.Add(time.Second)
	before := clock.now
	s.Synchronize()
	if !clock.now.After(before) {
		t.Fatalf("Synchronize() did not sleep when running ahead of schedule")
	}
	if lead := s.anchor.Sub(clock.now); lead > s.delayThresh {
		t.Fatalf("after Synchronize, lead %v still exceeds threshold %v", lead, s.delayThresh)
	}
}

func TestAllowReactivationAttemptRateLimited(t *testing.T) {
	s, _ := newTestScheduler(44100, 2)
	if !s.AllowReactivationAttempt() {
		t.Fatal("first AllowReactivationAttempt() = false, want true (burst of 1)")
	}
	if s.AllowReactivationAttempt() {
		t.Fatal("second immediate AllowReactivationAttempt() = true, want false")
	}
}
