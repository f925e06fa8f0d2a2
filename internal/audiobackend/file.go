package audiobackend

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// FileBackend pulls samples on a ptime ticker and appends them directly to
// an io.Writer, with no secondary buffering. disospeakerd uses it for its
// "file" backend and disoplayrtp for its playback output to stdout; the
// circular dump is not written through it (rtpplay.Player writes that).
type FileBackend struct {
	w      io.WriteCloser
	format Format

	mu    sync.Mutex
	state state
	pull  PullFunc

	stopCh chan struct{}
	done   chan struct{}
}

// NewFileBackend returns a FileBackend appending to w. Stop closes w.
func NewFileBackend(w io.WriteCloser) *FileBackend {
	return &FileBackend{w: w}
}

func (b *FileBackend) Configure(format Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateNew {
		return fmt.Errorf("audiobackend: Configure called in state %s", b.state)
	}
	b.format = format
	b.state = stateConfigured
	return nil
}

func (b *FileBackend) Start(pull PullFunc) error {
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

func (b *FileBackend) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		return ErrAlreadyActive
	}
	if b.state != stateStarted {
		return fmt.Errorf("audiobackend: Activate called in state %s", b.state)
	}
	b.state = stateActive
	return nil
}

func (b *FileBackend) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		b.state = stateStarted
	}
	return nil
}

func (b *FileBackend) Stop() error {
	b.mu.Lock()
	if b.state == stateStopped || b.state == stateNew {
		b.mu.Unlock()
		return nil
	}
	b.state = stateStopped
	close(b.stopCh)
	b.mu.Unlock()

	<-b.done
	return b.w.Close()
}

func (b *FileBackend) run() {
	defer close(b.done)
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
		if _, err := b.w.Write(chunk[:n*frame]); err != nil {
			return
		}
	}
}
