package audiobackend

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/richardk/disorder-audio-core/internal/ringbuffer"
)

// ptime is the producer's pull interval, matching the packetization
// interval RTP transmission uses elsewhere in this module so a pipeBackend
// and an rtpBackend fed from the same engine stay in step.
const ptime = 20 * time.Millisecond

// pipeBufferFrames sizes the secondary ring buffer the producer and
// consumer goroutines share; large enough to absorb one write-stall on
// the consumer side without the producer blocking against the upstream
// callback (which must never block).
const pipeBufferFrames = 8192

// PipeBackend drives an io.Writer (a subprocess's stdin, a named pipe, or
// a redirected raw-sample file descriptor) with a producer/consumer
// goroutine pair decoupling the upstream callback's timing from the
// writer's. This is the analogue of a callback-driven native sound API:
// the writer plays the role of the device.
type PipeBackend struct {
	w      io.Writer
	log    *slog.Logger
	format Format

	mu    sync.Mutex
	cond  sync.Cond // signaled on buffer state change (not-empty / not-full)
	state state
	buf   *ringbuffer.Buffer
	pull  PullFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipeBackend returns a PipeBackend writing to w. log, if nil, discards.
func NewPipeBackend(w io.Writer, log *slog.Logger) *PipeBackend {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &PipeBackend{w: w, log: log.With("subsystem", "pipebackend")}
	b.cond.L = &b.mu
	return b
}

func (b *PipeBackend) Configure(format Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateNew {
		return fmt.Errorf("audiobackend: Configure called in state %s", b.state)
	}
	b.format = format
	b.buf = ringbuffer.New(pipeBufferFrames * format.FrameSize())
	b.state = stateConfigured
	return nil
}

func (b *PipeBackend) Start(pull PullFunc) error {
	b.mu.Lock()
	if b.state != stateConfigured {
		b.mu.Unlock()
		return ErrNotConfigured
	}
	b.pull = pull
	b.state = stateStarted
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(2)
	go b.produce()
	go b.consume()
	return nil
}

func (b *PipeBackend) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		return ErrAlreadyActive
	}
	if b.state != stateStarted && b.state != stateConfigured {
		return fmt.Errorf("audiobackend: Activate called in state %s", b.state)
	}
	b.state = stateActive
	b.cond.Broadcast()
	b.log.Debug("activated")
	return nil
}

func (b *PipeBackend) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateActive {
		return nil
	}
	b.state = stateStarted
	b.log.Debug("deactivated")
	return nil
}

func (b *PipeBackend) Stop() error {
	b.mu.Lock()
	if b.state == stateStopped || b.state == stateNew {
		b.mu.Unlock()
		return nil
	}
	b.state = stateStopped
	close(b.stopCh)
	b.cond.Broadcast()
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// produce pulls samples from the upstream callback at ptime intervals and
// writes them into the shared ring buffer, blocking (via cond) only when
// the buffer is full — never when it's merely being drained.
func (b *PipeBackend) produce() {
	defer b.wg.Done()
	ticker := time.NewTicker(ptime)
	defer ticker.Stop()

	frame := b.format.FrameSize()
	chunkSamples := int(ptime.Seconds() * float64(b.format.SampleRate))
	chunk := make([]byte, chunkSamples*frame)

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		active := b.state == stateActive
		pull := b.pull
		b.mu.Unlock()
		if !active || pull == nil {
			continue
		}

		n := pull(chunk, chunkSamples)
		if n <= 0 {
			continue
		}
		payload := chunk[:n*frame]

		b.mu.Lock()
		for b.buf.Free() < len(payload) {
			if b.state == stateStopped {
				b.mu.Unlock()
				return
			}
			b.cond.Wait()
		}
		b.buf.Write(payload)
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// consume drains the shared ring buffer into the writer, blocking (via
// cond) only when the buffer is empty.
func (b *PipeBackend) consume() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for b.buf.Len() == 0 {
			if b.state == stateStopped {
				b.mu.Unlock()
				return
			}
			b.cond.Wait()
		}
		span := b.buf.PeekContiguous()
		chunk := append([]byte(nil), span...)
		b.buf.Consume(len(span))
		b.cond.Broadcast()
		b.mu.Unlock()

		if _, err := b.w.Write(chunk); err != nil {
			b.log.Error("pipe write failed", "error", err)
		}
	}
}
