package audiobackend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/richardk/disorder-audio-core/internal/scheduler"
)

// Sender is the narrow surface RTPBackend needs from a transmitter,
// satisfied by internal/rtptransmit.Transmitter. Keeping this as a local
// interface rather than importing the concrete type avoids a dependency
// from the backend abstraction onto the wire-format package; only main()
// needs both.
type Sender interface {
	// Send packetizes and transmits payload (raw L16 samples for
	// the configured format) at the given sample-index timestamp,
	// setting the RTP marker bit if marker is true.
	Send(payload []byte, timestamp uint32, marker bool) error
}

// RTPBackend drives a Sender at the rate set by a Scheduler: it is the
// non-self-clocked output path, where pacing must be synthesized rather
// than imposed by a device's own clock.
type RTPBackend struct {
	send   Sender
	sched  *scheduler.Scheduler
	format Format
	log    *slog.Logger

	// activateGate rate-limits retrying Activate after a Send failure,
	// so a persistently unreachable destination doesn't spin the
	// producer goroutine.
	activateGate *rate.Limiter

	mu    sync.Mutex
	state state
	pull  PullFunc
	idle  bool // true once a pause has suppressed output (OQ-3: RTP backend suppresses, doesn't emit silence)

	stopCh chan struct{}
	done   chan struct{}
}

// NewRTPBackend returns an RTPBackend sending through send, paced by sched.
func NewRTPBackend(send Sender, sched *scheduler.Scheduler, log *slog.Logger) *RTPBackend {
	if log == nil {
		log = slog.Default()
	}
	return &RTPBackend{
		send:         send,
		sched:        sched,
		log:          log.With("subsystem", "rtpbackend"),
		activateGate: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (b *RTPBackend) Configure(format Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateNew {
		return fmt.Errorf("audiobackend: Configure called in state %s", b.state)
	}
	if format.BytesPerSample != 2 || !format.Signed {
		return fmt.Errorf("audiobackend: rtp backend requires signed 16-bit samples, got %d bytes, signed=%v",
			format.BytesPerSample, format.Signed)
	}
	b.format = format
	b.state = stateConfigured
	return nil
}

func (b *RTPBackend) Start(pull PullFunc) error {
	b.mu.Lock()
	if b.state != stateConfigured {
		b.mu.Unlock()
		return ErrNotConfigured
	}
	b.pull = pull
	b.state = stateStarted
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run()
	return nil
}

// Activate enables flow. RTP suppresses output entirely while paused
// (OQ-3 in the grounding ledger): reactivating resynchronizes the
// scheduler so the timestamp jumps over the dead air instead of the next
// packet silently inheriting a stale one.
func (b *RTPBackend) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		return ErrAlreadyActive
	}
	if b.state != stateStarted {
		return fmt.Errorf("audiobackend: Activate called in state %s", b.state)
	}
	b.state = stateActive
	b.sched.Reactivate()
	return nil
}

func (b *RTPBackend) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		b.state = stateStarted
		b.idle = true
	}
	return nil
}

func (b *RTPBackend) Stop() error {
	b.mu.Lock()
	if b.state == stateStopped || b.state == stateNew {
		b.mu.Unlock()
		return nil
	}
	b.state = stateStopped
	close(b.stopCh)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *RTPBackend) run() {
	defer close(b.done)

	frame := b.format.FrameSize()
	chunkSamples := int(ptime.Seconds() * float64(b.format.SampleRate))
	chunk := make([]byte, chunkSamples*frame)

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		b.mu.Lock()
		active := b.state == stateActive
		pull := b.pull
		wasIdle := b.idle
		b.mu.Unlock()

		if !active || pull == nil {
			time.Sleep(ptime)
			continue
		}

		b.sched.Synchronize()

		n := pull(chunk, chunkSamples)
		if n <= 0 {
			continue
		}

		marker := wasIdle
		if err := b.send.Send(chunk[:n*frame], uint32(b.sched.Timestamp()), marker); err != nil {
			b.log.Warn("rtp send failed", "error", err)
			if !b.activateGate.Allow() {
				continue
			}
		}
		if wasIdle {
			b.mu.Lock()
			b.idle = false
			b.mu.Unlock()
		}
		b.sched.Update(n * int(b.format.Channels))
	}
}
