package speaker

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richardk/disorder-audio-core/internal/audiobackend"
	"github.com/richardk/disorder-audio-core/internal/wire"
)

// recordingBackend is a minimal Backend that lets the test drive the pull
// callback directly, instead of running a real ptime-ticker goroutine.
type recordingBackend struct {
	mu       sync.Mutex
	pull     audiobackend.PullFunc
	active   bool
	activate int
}

func (b *recordingBackend) Configure(audiobackend.Format) error { return nil }
func (b *recordingBackend) Start(pull audiobackend.PullFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pull = pull
	return nil
}
func (b *recordingBackend) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.activate++
	return nil
}
func (b *recordingBackend) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return nil
}
func (b *recordingBackend) Stop() error { return nil }

func (b *recordingBackend) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// pullOnce invokes the registered callback, or returns false if none has
// been registered yet.
func (b *recordingBackend) pullOnce(buf []byte, n int) (int, bool) {
	b.mu.Lock()
	pull := b.pull
	b.mu.Unlock()
	if pull == nil {
		return 0, false
	}
	return pull(buf, n), true
}

// testServer stands in for the controlling server. A background goroutine
// continuously drains the engine's output pipe into a channel, so periodic
// PLAYING/PAUSED reports can never block the engine's single write mutex
// behind a test that isn't actively reading at that instant.
type testServer struct {
	toEngine io.WriteCloser
	msgs     chan wire.Message
}

func newTestServerPump(toEngine io.WriteCloser, fromEngine io.Reader) *testServer {
	s := &testServer{toEngine: toEngine, msgs: make(chan wire.Message, 64)}
	go func() {
		for {
			m, err := wire.ReadMessage(fromEngine)
			if err != nil {
				close(s.msgs)
				return
			}
			s.msgs <- m
		}
	}()
	return s
}

func (s *testServer) send(t *testing.T, m wire.Message) {
	t.Helper()
	if err := wire.WriteMessage(s.toEngine, m); err != nil {
		t.Fatalf("send %v: %v", m.Kind, err)
	}
}

func (s *testServer) recvKind(t *testing.T, want wire.MessageKind) wire.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-s.msgs:
			if !ok {
				t.Fatalf("engine output closed while waiting for %v", want)
			}
			if m.Kind == want {
				return m
			}
			if m.Kind == wire.Playing || m.Kind == wire.Paused {
				continue // periodic status reports are expected noise
			}
			t.Fatalf("recv: got %v, want %v", m.Kind, want)
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func newTestEngine(t *testing.T) (*Engine, *testServer, *recordingBackend) {
	t.Helper()
	serverToEngineR, serverToEngineW := io.Pipe()
	engineToServerR, engineToServerW := io.Pipe()

	backend := &recordingBackend{}
	e := New(Config{
		Format:     audiobackend.Format{SampleRate: 8000, Channels: 1, BytesPerSample: 2},
		ListenPath: filepath.Join(t.TempDir(), "decoder.sock"),
		ServerIn:   serverToEngineR,
		ServerOut:  engineToServerW,
		Backend:    backend,
	})

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	srv := newTestServerPump(serverToEngineW, engineToServerR)
	srv.recvKind(t, wire.Ready)

	t.Cleanup(func() {
		e.Stop()
		<-done
		serverToEngineW.Close()
	})

	return e, srv, backend
}

func connectTrack(t *testing.T, e *Engine, id string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", e.listenPath)
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial decoder socket: %v", err)
	}
	if err := wire.WriteHandshakeHeader(conn, nativeEndian, id); err != nil {
		t.Fatalf("handshake header: %v", err)
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		t.Fatalf("handshake ack: %v", err)
	}
	return conn
}

func TestEngineArrivalAndPlayback(t *testing.T) {
	e, srv, backend := newTestEngine(t)

	srv.send(t, wire.Message{Kind: wire.Play, ID: "t1"})
	conn := connectTrack(t, e, "t1")
	defer conn.Close()

	arrived := srv.recvKind(t, wire.Arrived)
	if arrived.ID != "t1" {
		t.Fatalf("ARRIVED id = %q, want t1", arrived.ID)
	}

	samples := make([]byte, 2000)
	for i := range samples {
		samples[i] = 0x7f
	}
	if _, err := conn.Write(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	conn.(interface{ CloseWrite() error }).CloseWrite()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !backend.isActive() {
		time.Sleep(5 * time.Millisecond)
	}
	if !backend.isActive() {
		t.Fatal("backend was never activated for a playable track")
	}

	buf := make([]byte, 200)
	n, ok := backend.pullOnce(buf, 100)
	if !ok {
		t.Fatal("pull callback not registered")
	}
	if n != 100 {
		t.Fatalf("pull returned %d samples, want 100", n)
	}
}

func TestEngineCancelBeforeArrivalIsStillborn(t *testing.T) {
	_, srv, _ := newTestEngine(t)

	srv.send(t, wire.Message{Kind: wire.Play, ID: "ghost"})
	srv.send(t, wire.Message{Kind: wire.Cancel, ID: "ghost"})

	m := srv.recvKind(t, wire.Stillborn)
	if m.ID != "ghost" {
		t.Fatalf("STILLBORN id = %q, want ghost", m.ID)
	}
}

func TestEngineCancelUnknownTrack(t *testing.T) {
	_, srv, _ := newTestEngine(t)

	srv.send(t, wire.Message{Kind: wire.Cancel, ID: "nope"})
	m := srv.recvKind(t, wire.Unknown)
	if m.ID != "nope" {
		t.Fatalf("UNKNOWN id = %q, want nope", m.ID)
	}
}

func TestEngineGaplessTransitionAndFinish(t *testing.T) {
	e, srv, backend := newTestEngine(t)

	srv.send(t, wire.Message{Kind: wire.Play, ID: "t1"})
	conn1 := connectTrack(t, e, "t1")
	srv.recvKind(t, wire.Arrived)

	// Small track, entirely within the early-finish window, so once EOF
	// is reached FINISHED fires before the buffer has actually drained.
	conn1.Write(make([]byte, 64)) // 32 samples at 16-bit mono
	conn1.(interface{ CloseWrite() error }).CloseWrite()
	srv.recvKind(t, wire.Finished)

	// PLAY t2 arrives while t1's tail is still buffered: it must queue as
	// pending, not cut t1's tail off.
	srv.send(t, wire.Message{Kind: wire.Play, ID: "t2"})
	conn2 := connectTrack(t, e, "t2")
	defer conn2.Close()
	srv.recvKind(t, wire.Arrived)
	conn2.Write(make([]byte, 64))
	conn2.(interface{ CloseWrite() error }).CloseWrite()

	// Draining t1's remaining tail promotes t2 to current with no gap.
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, ok := backend.pullOnce(buf, 32); ok && n == 32 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.recvKind(t, wire.Finished)
}

func TestEnginePauseResumeReporting(t *testing.T) {
	e, srv, _ := newTestEngine(t)

	srv.send(t, wire.Message{Kind: wire.Play, ID: "t1"})
	conn := connectTrack(t, e, "t1")
	defer conn.Close()
	srv.recvKind(t, wire.Arrived)

	conn.Write(make([]byte, 4000))

	srv.send(t, wire.Message{Kind: wire.Pause})
	m := srv.recvKind(t, wire.Paused)
	if m.ID != "t1" {
		t.Fatalf("PAUSED id = %q, want t1", m.ID)
	}

	srv.send(t, wire.Message{Kind: wire.Resume})
}

// TestEngineElapsedCountsScalarSamplesNotFrames guards against reporting
// playedSamples as a frame count: for a multi-channel format, elapsed
// seconds must be computed from the scalar (per-channel) sample count, not
// a count of frames, or stereo playback reports half the true elapsed time.
func TestEngineElapsedCountsScalarSamplesNotFrames(t *testing.T) {
	format := audiobackend.Format{SampleRate: 8000, Channels: 2, BytesPerSample: 2}
	var out bytes.Buffer
	e := New(Config{
		Format:    format,
		ServerIn:  strings.NewReader(""),
		ServerOut: &out,
		Backend:   &recordingBackend{},
	})

	tr := newTrack("t1")
	frameSamples := 8000 // exactly one second of stereo frames at 8kHz
	data := make([]byte, frameSamples*format.FrameSize())
	tr.ring.Write(data)
	tr.playable = true
	e.current = tr

	buf := make([]byte, len(data))
	if n := e.pull(buf, frameSamples); n != frameSamples {
		t.Fatalf("pull returned %d, want %d", n, frameSamples)
	}

	e.reportNow()

	msg, err := wire.ReadMessage(&out)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Kind != wire.Playing {
		t.Fatalf("message kind = %v, want PLAYING", msg.Kind)
	}
	if msg.Data != 1 {
		t.Fatalf("elapsed = %d seconds, want 1 (one second of stereo audio played)", msg.Data)
	}
}
