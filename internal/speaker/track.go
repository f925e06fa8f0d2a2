// Package speaker implements the speaker engine (C7): track lifecycle,
// inbound decoder connection handling, control-message dispatch, and
// gapless transitions between successive tracks feeding a single
// audiobackend.Backend.
package speaker

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/richardk/disorder-audio-core/internal/ringbuffer"
)

// ringCapacity sizes a track's buffer at roughly 6s of 44.1kHz 16-bit
// stereo audio.
const ringCapacity = 1 << 20 // 1 MiB

// defaultEarlyFinishSeconds is how much audio an EOF track may still hold
// when its early FINISHED report is sent; New converts it into the
// Engine's earlyFinishBytes threshold using the configured format.
const defaultEarlyFinishSeconds = 1 * time.Second

// Track represents one inbound audio stream.
type Track struct {
	ID string

	// logID is a short correlation id attached to this track's log lines,
	// distinguishing successive tracks that reuse the same server-chosen
	// ID (e.g. after a cancel and a later replay of the same track name).
	logID string

	conn io.Closer
	ring *ringbuffer.Buffer

	eof              bool
	playable         bool
	finishedReported bool
	cancelled        bool

	playedSamples uint64
}

func newTrack(id string) *Track {
	return &Track{
		ID:    id,
		logID: uuid.NewString()[:8],
		ring:  ringbuffer.New(ringCapacity),
	}
}

// bindConn attaches the inbound decoder connection to a track created (or
// looked up) by a PLAY command that arrived before the connection did.
func (t *Track) bindConn(c io.Closer) {
	t.conn = c
}

// Occupancy returns the number of bytes currently buffered.
func (t *Track) Occupancy() int {
	return t.ring.Len()
}

func (t *Track) close() {
	if t.conn != nil {
		t.conn.Close()
	}
}
