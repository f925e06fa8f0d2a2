// Package audiobackend provides the pull-model audio backend abstraction
// (C5): a uniform interface over "drives a local sound API" and "packetizes
// and sends over RTP" outputs, both driven by the same callback contract.
package audiobackend

import (
	"errors"
	"fmt"
)

// PullFunc is the playback callback contract: fill up to len(buf)/frameSize
// samples into buf and return the number of samples actually written.
// Implementations must return within a few milliseconds and must not block
// on unbounded I/O; if no data is ready they should fill buf with silence
// and report the full request satisfied; a backend never retries on a
// short fill, so returning fewer samples than requested is only meaningful
// for backends that tolerate it.
type PullFunc func(buf []byte, maxSamples int) (samplesWritten int)

// Format describes the PCM layout every backend and the upstream callback
// agree on.
type Format struct {
	SampleRate uint32
	Channels   uint8
	// BytesPerSample is 2 for the L16 payloads this module carries.
	BytesPerSample uint8
	// Signed records the remaining legs of §6's process-global sample
	// format triple: this module only ever carries signed PCM, matching
	// RFC3550's L16 profile.
	Signed bool
	// LittleEndian is the host's own byte order for samples held in
	// memory (ring buffers, jitter-buffer packets). It is never the wire
	// order: RTP's L16 payload is always big-endian regardless of host,
	// and the conversion between the two happens at the transmit/receive
	// boundary via internal/wire.SwapL16, not by carrying wire-endian data
	// through this struct.
	LittleEndian bool
}

// FrameSize returns the byte size of one sample frame (all channels).
func (f Format) FrameSize() int {
	return int(f.Channels) * int(f.BytesPerSample)
}

// Backend is the capability set every output implementation provides,
// corresponding to the reference design's table of function pointers.
type Backend interface {
	// Configure validates and stores the PCM format this backend will be
	// asked to produce. Called once, before Start.
	Configure(format Format) error

	// Start registers the pull callback and allocates any backend
	// resources (helper goroutines, file handles, sockets). After Start
	// returns, Activate may be called at any time.
	Start(pull PullFunc) error

	// Activate enables audio flow. After this returns, the callback may
	// be invoked at any moment on a backend-owned goroutine.
	Activate() error

	// Deactivate disables audio flow. After this returns, the callback
	// will not be invoked until the next Activate.
	Deactivate() error

	// Stop releases all resources acquired by Start. The backend is not
	// reusable afterward.
	Stop() error
}

// ErrNotConfigured is returned by Start when Configure has not been called
// successfully first.
var ErrNotConfigured = errors.New("audiobackend: backend not configured")

// ErrAlreadyActive is returned by Activate when the backend is already
// producing audio.
var ErrAlreadyActive = errors.New("audiobackend: backend already active")

// state is shared lifecycle bookkeeping embedded by each implementation;
// it is not a public type since the transition rules are backend-specific
// only in the "what happens on Activate" sense, not in "can Activate be
// called twice" sense.
type state int

const (
	stateNew state = iota
	stateConfigured
	stateStarted
	stateActive
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConfigured:
		return "configured"
	case stateStarted:
		return "started"
	case stateActive:
		return "active"
	case stateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
