package audiobackend

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func TestPipeBackendLifecycleRejectsOutOfOrderCalls(t *testing.T) {
	var buf bytes.Buffer
	b := NewPipeBackend(&buf, nil)

	if err := b.Start(func([]byte, int) int { return 0 }); err != ErrNotConfigured {
		t.Fatalf("Start before Configure = %v, want ErrNotConfigured", err)
	}
	if err := b.Configure(Format{SampleRate: 44100, Channels: 2, BytesPerSample: 2}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := b.Start(func([]byte, int) int { return 0 }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := b.Activate(); err != ErrAlreadyActive {
		t.Fatalf("second Activate = %v, want ErrAlreadyActive", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPipeBackendDeliversProducedSamplesToWriter(t *testing.T) {
	var buf bytes.Buffer
	b := NewPipeBackend(&buf, nil)
	if err := b.Configure(Format{SampleRate: 8000, Channels: 1, BytesPerSample: 2}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var calls int32
	pull := func(dst []byte, maxSamples int) int {
		atomic.AddInt32(&calls, 1)
		n := maxSamples
		for i := 0; i < n*2; i++ {
			dst[i] = 0x7F
		}
		return n
	}
	if err := b.Start(pull); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for buf.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for pipe backend to write any data")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("pull callback was never invoked")
	}
}

func TestFileBackendWritesAndClosesUnderlying(t *testing.T) {
	var buf bytes.Buffer
	b := NewFileBackend(nopWriteCloser{&buf})
	if err := b.Configure(Format{SampleRate: 8000, Channels: 1, BytesPerSample: 2}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := b.Start(func(dst []byte, maxSamples int) int {
		for i := range dst[:maxSamples*2] {
			dst[i] = 0x11
		}
		return maxSamples
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected file backend to have written data before Stop")
	}
}

func TestFormatFrameSize(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2, BytesPerSample: 2}
	if got, want := f.FrameSize(), 4; got != want {
		t.Fatalf("FrameSize() = %d, want %d", got, want)
	}
}
