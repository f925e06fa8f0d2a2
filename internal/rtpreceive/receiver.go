package rtpreceive

import (
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/richardk/disorder-audio-core/internal/jitter"
)

// intakeDepth bounds how many received-but-not-yet-queued packets may
// pile up between the listen goroutine and the queue goroutine before the
// listen goroutine starts blocking on send. A deep backlog here means the
// queue side (and ultimately playback) has stalled.
const intakeDepth = 64

// Queue accepts validated packets in arrival order and knows whether a
// given timestamp is already too late to matter, letting the receiver
// drop stale packets before they ever reach the jitter heap. Implemented
// by internal/rtpplay.Player.
type Queue interface {
	Push(p *jitter.Packet)
	ShouldDropLate(ts uint32) bool
}

// Receiver owns the UDP socket, reads RTP packets off it, validates them,
// and forwards survivors to a Queue. The listen goroutine and the queue
// goroutine communicate over a buffered channel rather than the shared
// linked list and mutex of the original design, since the channel already
// gives a bounded, concurrency-safe handoff for free.
type Receiver struct {
	conn  *net.UDPConn
	alc   *jitter.SyncAllocator
	queue Queue
	log   *slog.Logger

	intake chan *jitter.Packet
	stop   chan struct{}
	done   chan struct{}

	fatalErr atomic.Value // error

	received atomic.Uint64
	dropped  atomic.Uint64
	late     atomic.Uint64
}

// New binds listenAddr and constructs a Receiver that will forward
// validated packets to queue once Run is called.
func New(listenAddr string, alc *jitter.SyncAllocator, queue Queue, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := bindSocket(listenAddr)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		conn:   conn,
		alc:    alc,
		queue:  queue,
		log:    log.With("subsystem", "rtpreceive"),
		intake: make(chan *jitter.Packet, intakeDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Run starts the listen and queue goroutines and blocks until Close is
// called, the socket errors out, or a fatal protocol violation (an
// unsupported payload type) is received. Check Err after Run returns to
// distinguish a fatal condition from an ordinary Close.
func (r *Receiver) Run() {
	go r.queueLoop()
	r.listenLoop()
	close(r.done)
}

// Err returns the error that caused Run to stop, if any.
func (r *Receiver) Err() error {
	if e, ok := r.fatalErr.Load().(error); ok {
		return e
	}
	return nil
}

// Close stops the receiver and releases its socket.
func (r *Receiver) Close() error {
	close(r.stop)
	err := r.conn.Close()
	<-r.done
	return err
}

func (r *Receiver) listenLoop() {
	defer close(r.intake)
	buf := make([]byte, 65536)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				r.log.Debug("receive socket read error", "error", err)
				return
			}
		}
		if !r.handlePacket(buf[:n]) {
			return
		}
	}
}

// handlePacket validates and forwards one datagram, returning false if a
// fatal protocol violation means the listen loop must stop.
func (r *Receiver) handlePacket(raw []byte) bool {
	hdr, payload, err := parseHeader(raw)
	if err != nil {
		r.dropped.Add(1)
		r.log.Debug("dropping malformed packet", "error", err)
		return true
	}
	if hdr.extension {
		r.dropped.Add(1)
		r.log.Debug("dropping packet with header extension set", "sequence", hdr.sequence)
		return true
	}
	if !payloadSupported(hdr.payloadType) {
		err := errUnsupportedPayload{pt: hdr.payloadType}
		r.log.Error("fatal: unsupported RTP payload type received", "payload_type", hdr.payloadType)
		r.fatalErr.Store(error(err))
		return false
	}
	if r.queue.ShouldDropLate(hdr.timestamp) {
		r.late.Add(1)
		r.dropped.Add(1)
		return true
	}

	p := r.alc.Get()
	p.Timestamp = hdr.timestamp
	p.Flags = 0
	if hdr.marker {
		p.Flags |= jitter.FlagIdle
	}
	n := len(payload) / 2
	if n > jitter.MaxInlineSamples {
		n = jitter.MaxInlineSamples
	}
	p.Samples = n
	copy(p.Data[:n*2], payload[:n*2])

	select {
	case r.intake <- p:
		r.received.Add(1)
	case <-r.stop:
		r.alc.Put(p)
	}
	return true
}

func (r *Receiver) queueLoop() {
	for p := range r.intake {
		r.queue.Push(p)
	}
}

// PacketsReceived, PacketsDropped, and PacketsLate satisfy
// internal/metrics.ReceiveStatsProvider.
func (r *Receiver) PacketsReceived() uint64 { return r.received.Load() }
func (r *Receiver) PacketsDropped() uint64  { return r.dropped.Load() }
func (r *Receiver) PacketsLate() uint64     { return r.late.Load() }
