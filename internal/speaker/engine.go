package speaker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/richardk/disorder-audio-core/internal/audiobackend"
	"github.com/richardk/disorder-audio-core/internal/metrics"
	"github.com/richardk/disorder-audio-core/internal/wire"
)

// reportInterval bounds how often PLAYING/PAUSED status reports are sent
// while a track is current.
const reportInterval = 1 * time.Second

// parentCheckInterval is the dispatch loop's ticker period: with no other
// event the loop still reconciles (reports, activation, early FINISHED)
// this often, and each tick checks whether its parent has become pid 1
// (controlling server died without closing stdin).
const parentCheckInterval = 500 * time.Millisecond

// eventKind discriminates the engineEvent values that the stdin reader and
// the decoder listen socket's handshake goroutines send into the single
// dispatch loop (OQ-1 in DESIGN.md). The backend's wake channel and the
// 500ms ticker are selected on directly by the loop; evWake and evTick are
// never sent as events.
type eventKind int

const (
	evControl eventKind = iota
	evArrived
	evWake
	evTick
)

type engineEvent struct {
	kind eventKind
	msg  wire.Message
	id   string
	conn net.Conn
}

// Backend is the narrow surface the engine drives; audiobackend.Backend
// satisfies it.
type Backend interface {
	Configure(audiobackend.Format) error
	Start(audiobackend.PullFunc) error
	Activate() error
	Deactivate() error
	Stop() error
}

// Engine is the speaker engine (C7). One mutex (mu) protects every field
// below it: the track set, current/pending pointers, pause state, and
// activation state. It is released across every blocking call (backend
// Activate/Deactivate, socket I/O, message writes).
type Engine struct {
	log    *slog.Logger
	format audiobackend.Format
	backend Backend

	listenPath string
	listener   net.Listener

	serverIn  *bufio.Reader
	serverOut io.Writer
	serverMu  sync.Mutex // serializes writes to serverOut

	events chan engineEvent
	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	mu         sync.Mutex
	tracks     map[string]*Track
	current    *Track
	pending    *Track
	paused     bool
	activated  bool
	lastReport time.Time

	earlyFinishBytes int

	fatalErr error
}

// Config configures an Engine.
type Config struct {
	Format     audiobackend.Format
	ListenPath string
	ServerIn   io.Reader // stdin from the controlling server
	ServerOut  io.Writer // stdout to the controlling server
	Backend    Backend
	Log        *slog.Logger
}

// New constructs an Engine. Run must be called to start its goroutines.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	earlySeconds := defaultEarlyFinishSeconds.Seconds()
	earlyBytes := int(earlySeconds * float64(cfg.Format.SampleRate) * float64(cfg.Format.FrameSize()))

	return &Engine{
		log:              log.With("subsystem", "speaker-engine"),
		format:           cfg.Format,
		backend:          cfg.Backend,
		listenPath:       cfg.ListenPath,
		serverIn:         bufio.NewReader(cfg.ServerIn),
		serverOut:        cfg.ServerOut,
		events:           make(chan engineEvent),
		wake:             make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		tracks:           make(map[string]*Track),
		earlyFinishBytes: earlyBytes,
	}
}

// Run starts the engine's goroutines and blocks until the controlling
// server disconnects cleanly (stdin EOF or the parent becoming pid 1),
// CANCEL/PLAY protocol is violated fatally, or Stop is called. It returns
// nil on clean shutdown.
func (e *Engine) Run() error {
	if err := e.backend.Configure(e.format); err != nil {
		return fmt.Errorf("speaker: configuring backend: %w", err)
	}
	if err := e.backend.Start(e.pull); err != nil {
		return fmt.Errorf("speaker: starting backend: %w", err)
	}

	os.Remove(e.listenPath) // stale socket from a prior crashed run
	l, err := net.Listen("unix", e.listenPath)
	if err != nil {
		return fmt.Errorf("speaker: listening on %s: %w", e.listenPath, err)
	}
	e.listener = l

	go e.readControl()
	go e.acceptLoop()

	e.sendMessage(wire.Message{Kind: wire.Ready})
	e.log.Info("speaker engine ready", "listen", e.listenPath)

	err = e.dispatch()

	e.backend.Stop()
	e.listener.Close()
	e.mu.Lock()
	for _, t := range e.tracks {
		t.close()
	}
	e.mu.Unlock()
	close(e.doneCh)
	return err
}

// Stop requests an orderly shutdown of the dispatch loop.
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	<-e.doneCh
}

func (e *Engine) sendMessage(m wire.Message) {
	e.serverMu.Lock()
	defer e.serverMu.Unlock()
	if err := wire.WriteMessage(e.serverOut, m); err != nil {
		e.log.Warn("failed writing message to controlling server", "kind", m.Kind, "error", err)
	}
}

// readControl reads length-prefixed records from the controlling server
// and funnels them into the dispatch loop. EOF is treated as the server
// having exited cleanly.
func (e *Engine) readControl() {
	for {
		m, err := wire.ReadMessage(e.serverIn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.log.Info("controlling server closed stdin, shutting down")
			} else {
				e.log.Error("control channel protocol error", "error", err)
			}
			select {
			case <-e.stopCh:
			default:
				close(e.stopCh)
			}
			return
		}
		select {
		case e.events <- engineEvent{kind: evControl, msg: m}:
		case <-e.stopCh:
			return
		}
	}
}

// acceptLoop accepts inbound decoder connections and performs the
// handshake: a 32-bit native-endian length, the track id, a single ack
// byte reply.
func (e *Engine) acceptLoop() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.log.Error("accept failed", "error", err)
			return
		}
		go e.handshake(conn)
	}
}

func (e *Engine) handshake(conn net.Conn) {
	r := bufio.NewReader(conn)
	id, err := wire.ReadHandshakeHeader(r, nativeEndian)
	if err != nil {
		e.log.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	if _, err := conn.Write([]byte{1}); err != nil {
		e.log.Warn("handshake ack failed", "track", id, "error", err)
		conn.Close()
		return
	}
	select {
	case e.events <- engineEvent{kind: evArrived, id: id, conn: &bufConn{Conn: conn, r: r}}:
	case <-e.stopCh:
		conn.Close()
	}
}

// bufConn lets the handshake's buffered reader (which may already hold
// bytes read past the header) keep serving reads after handoff.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// dispatch is the single event-loop goroutine: it processes at most one
// control message or arrival per iteration, then reconciles activation
// state, early-finish detection, and periodic reporting.
func (e *Engine) dispatch() error {
	ticker := time.NewTicker(parentCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return e.fatalErr
		case ev := <-e.events:
			switch ev.kind {
			case evControl:
				if err := e.handleControl(ev.msg); err != nil {
					e.fatalErr = err
					e.log.Error("fatal protocol violation", "error", err)
					return err
				}
			case evArrived:
				e.handleArrival(ev.id, ev.conn)
			}
		case <-e.wake:
		case <-ticker.C:
			if os.Getppid() == 1 {
				e.log.Info("controlling server process gone (parent is pid 1), shutting down")
				return nil
			}
		}
		e.reconcile()
	}
}

func (e *Engine) handleArrival(id string, conn net.Conn) {
	e.mu.Lock()
	t, ok := e.tracks[id]
	if !ok {
		t = newTrack(id)
		e.tracks[id] = t
	}
	t.bindConn(conn)
	e.mu.Unlock()

	e.log.Debug("track connection arrived", "track", id, "correlation", t.logID)
	e.sendMessage(wire.Message{Kind: wire.Arrived, ID: id})
	go e.readTrack(t)
}

// readTrack is the per-track producer goroutine: single producer into the
// track's ring buffer. While the buffer is full, writeTrack releases the
// engine mutex and polls every 5ms until the playback callback has
// consumed enough to make room.
func (e *Engine) readTrack(t *Track) {
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.(io.Reader).Read(buf)
		if n > 0 {
			e.writeTrack(t, buf[:n])
		}
		if err != nil {
			e.mu.Lock()
			t.eof = true
			t.playable = true
			e.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				e.log.Warn("track input error, treating as eof", "track", t.ID, "correlation", t.logID, "error", err)
			}
			e.kick()
			return
		}
	}
}

func (e *Engine) writeTrack(t *Track, data []byte) {
	e.mu.Lock()
	off := 0
	for off < len(data) {
		for t.ring.Free() == 0 {
			if t.cancelled {
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			e.mu.Lock()
		}
		w := t.ring.Write(data[off:])
		if w == 0 {
			continue
		}
		off += w
	}
	if !t.playable && t.ring.Len() > 0 {
		t.playable = true
	}
	e.mu.Unlock()
	e.kick()
}

// kick wakes the dispatch loop without blocking, a self-pipe technique
// adapted to a buffered channel for the playback callback to poke from
// another goroutine.
func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) handleControl(m wire.Message) error {
	switch m.Kind {
	case wire.Play:
		return e.handlePlay(m.ID)
	case wire.Pause:
		e.mu.Lock()
		e.paused = true
		e.mu.Unlock()
		e.reportNow()
	case wire.Resume:
		e.mu.Lock()
		e.paused = false
		e.mu.Unlock()
	case wire.Cancel:
		e.handleCancel(m.ID)
	case wire.Reload:
		e.log.Info("reload requested (configuration file parsing is out of scope; no-op)")
	default:
		e.log.Warn("unknown control message kind", "kind", int32(m.Kind))
	}
	return nil
}

func (e *Engine) handlePlay(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tracks[id]
	if !ok {
		t = newTrack(id)
		e.tracks[id] = t
	}
	if e.current == nil {
		e.current = t
		return nil
	}
	// A current track stays current — even after FINISHED has been sent
	// early — until its buffer actually drains to zero and reconcile
	// promotes the pending track (the gapless transition). Overwriting
	// current here would cut off its unplayed tail.
	if e.pending != nil {
		return fmt.Errorf("speaker: PLAY %s received while %s is playing and %s is already pending",
			id, e.current.ID, e.pending.ID)
	}
	e.pending = t
	return nil
}

func (e *Engine) handleCancel(id string) {
	e.mu.Lock()
	t, known := e.tracks[id]

	switch {
	case !known:
		e.mu.Unlock()
		e.sendMessage(wire.Message{Kind: wire.Unknown, ID: id})
		return

	case t.finishedReported:
		e.mu.Unlock()
		e.log.Warn("CANCEL on already-finished track ignored", "track", id)
		return

	case e.current == t || e.pending == t:
		kind := wire.Finished
		if e.current == t && t.playedSamples == 0 {
			// Cancelled before any of its audio was played.
			kind = wire.Stillborn
		}
		if e.current == t {
			e.current = nil
		}
		if e.pending == t {
			e.pending = nil
		}
		delete(e.tracks, id)
		e.mu.Unlock()
		t.close()
		e.sendMessage(wire.Message{Kind: kind, ID: id})
		return

	default:
		delete(e.tracks, id)
		e.mu.Unlock()
		t.close()
		e.sendMessage(wire.Message{Kind: wire.Stillborn, ID: id})
		return
	}
}

// reconcile reruns after every dispatch iteration: it promotes a drained
// track's pending successor (gapless, no backend deactivation involved),
// detects the early-FINISHED condition, activates/deactivates the backend
// to match whether playback should be enabled, and emits periodic reports.
func (e *Engine) reconcile() {
	e.mu.Lock()

	if e.current != nil && e.current.eof && e.current.Occupancy() == 0 {
		finished := e.current
		e.current = e.pending
		e.pending = nil
		delete(e.tracks, finished.ID)
		e.mu.Unlock()
		finished.close()
		if !finished.finishedReported {
			e.sendMessage(wire.Message{Kind: wire.Finished, ID: finished.ID})
		}
		e.mu.Lock()
	}

	if cur := e.current; cur != nil && !cur.finishedReported && cur.eof && cur.Occupancy() <= e.earlyFinishBytes {
		cur.finishedReported = true
		id := cur.ID
		e.mu.Unlock()
		e.sendMessage(wire.Message{Kind: wire.Finished, ID: id})
		e.mu.Lock()
	}

	shouldActivate := e.current != nil && !e.paused && e.current.playable
	activated := e.activated
	e.mu.Unlock()

	if shouldActivate != activated {
		var err error
		if shouldActivate {
			err = e.backend.Activate()
		} else {
			err = e.backend.Deactivate()
		}
		if err != nil && !errors.Is(err, audiobackend.ErrAlreadyActive) {
			e.log.Warn("backend activation state change failed", "want_active", shouldActivate, "error", err)
		} else {
			e.mu.Lock()
			e.activated = shouldActivate
			e.mu.Unlock()
		}
	}

	e.maybeReport(false)
}

func (e *Engine) reportNow() {
	e.maybeReport(true)
}

func (e *Engine) maybeReport(force bool) {
	e.mu.Lock()
	cur := e.current
	paused := e.paused
	if cur == nil {
		e.mu.Unlock()
		return
	}
	if !force && time.Since(e.lastReport) < reportInterval {
		e.mu.Unlock()
		return
	}
	e.lastReport = time.Now()
	elapsed := int64(cur.playedSamples / uint64(e.format.SampleRate*uint32(e.format.Channels)))
	id := cur.ID
	e.mu.Unlock()

	kind := wire.Playing
	if paused {
		kind = wire.Paused
	}
	e.sendMessage(wire.Message{Kind: kind, ID: id, Data: elapsed})
}

// pull is the audiobackend.PullFunc driving playback: the engine's only
// real-time-critical path. It never blocks on I/O and never allocates.
func (e *Engine) pull(buf []byte, maxSamples int) int {
	frame := e.format.FrameSize()
	need := maxSamples * frame
	if need > len(buf) {
		need = len(buf)
	}

	e.mu.Lock()
	t := e.current
	if t == nil || e.paused || !t.playable {
		e.mu.Unlock()
		zeroFill(buf[:need])
		return maxSamples
	}

	total := 0
	for total < need && t.ring.Len() > 0 {
		span := t.ring.PeekContiguous()
		n := len(span)
		if total+n > need {
			n = need - total
		}
		copy(buf[total:total+n], span[:n])
		t.ring.Consume(n)
		total += n
	}
	t.playedSamples += uint64(total / int(e.format.BytesPerSample))
	drained := t.ring.Len() == 0

	if total < need {
		zeroFill(buf[total:need])
	}
	e.mu.Unlock()

	if drained {
		e.kick()
	}
	return maxSamples
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ActiveTrackCount and Tracks satisfy metrics.TrackStatsProvider.
func (e *Engine) ActiveTrackCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracks)
}

func (e *Engine) Tracks() []metrics.TrackEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]metrics.TrackEntry, 0, len(e.tracks))
	for _, t := range e.tracks {
		out = append(out, metrics.TrackEntry{ID: t.ID, Occupancy: t.Occupancy(), Capacity: ringCapacity})
	}
	return out
}
