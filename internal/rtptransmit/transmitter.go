// Package rtptransmit implements the RTP transmitter (C6): packet
// construction, destination-mode resolution, and per-packet dispatch to
// broadcast, multicast, unicast, or a mutable request-mode recipient set.
package rtptransmit

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/richardk/disorder-audio-core/internal/wire"
)

// maxPayloadBytes bounds one packet's payload to stay comfortably under a
// typical Ethernet MTU once RTP/UDP/IP headers are added.
const maxPayloadBytes = 1400

// progressInterval is how often a progress line is logged.
const progressInterval = 8192

// sendBufferBytes is the minimum SO_SNDBUF raised on every transmit socket.
const sendBufferBytes = 128 * 1024

// Config configures a Transmitter.
type Config struct {
	Mode          Mode
	Destination   string // host:port; ignored in ModeRequest
	PayloadType   uint8
	FrameSize     int   // bytes per sample frame (channels * bytes-per-sample)
	Channels      uint8 // channel count; RTP timestamp advances in scalar samples (frames*channels), matching the jitter/scheduler packages' sample-index convention
	MulticastTTL  int
	MulticastLoop bool
}

// Transmitter builds and sends RTP packets to broadcast, multicast,
// unicast, or a request-mode recipient set.
type Transmitter struct {
	cfg Config
	log *slog.Logger

	conn *net.UDPConn // used for unicast/broadcast/multicast

	recipients *Recipients // used in ModeRequest
	connV4     *net.UDPConn
	connV6     *net.UDPConn

	seq  atomic.Uint32 // low 16 bits used; wraps naturally on cast to uint16
	ssrc uint32

	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
}

// New creates a Transmitter and opens the sockets its mode requires.
func New(cfg Config, log *slog.Logger) (*Transmitter, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.FrameSize <= 0 {
		return nil, errors.New("rtptransmit: FrameSize must be positive")
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	t := &Transmitter{
		cfg:  cfg,
		log:  log.With("subsystem", "rtptransmit"),
		ssrc: rand.Uint32(),
	}
	t.seq.Store(uint32(rand.N(uint32(1) << 16)))

	switch cfg.Mode {
	case ModeRequest:
		t.recipients = NewRecipients()
		v4, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return nil, fmt.Errorf("rtptransmit: opening ipv4 socket: %w", err)
		}
		raiseSendBuffer(v4, t.log)
		t.connV4 = v4

		v6, err := net.ListenUDP("udp6", &net.UDPAddr{})
		if err != nil {
			t.log.Warn("ipv6 socket unavailable for request-mode recipients", "error", err)
		} else {
			raiseSendBuffer(v6, t.log)
			t.connV6 = v6
		}

	default:
		addr, err := net.ResolveUDPAddr("udp", cfg.Destination)
		if err != nil {
			return nil, fmt.Errorf("rtptransmit: resolving destination %q: %w", cfg.Destination, err)
		}
		conn, err := net.DialUDP(addr.Network(), nil, addr)
		if err != nil {
			return nil, fmt.Errorf("rtptransmit: dialing destination %q: %w", cfg.Destination, err)
		}
		raiseSendBuffer(conn, t.log)
		if err := applyModeSockopts(conn, cfg); err != nil {
			conn.Close()
			return nil, err
		}
		t.conn = conn
	}

	return t, nil
}

// AddRecipient registers a recipient for ModeRequest. No-op (returns an
// error) in other modes.
func (t *Transmitter) AddRecipient(addr string) error {
	if t.recipients == nil {
		return errors.New("rtptransmit: AddRecipient called outside request mode")
	}
	return t.recipients.Add(addr)
}

// RemoveRecipient unregisters a recipient for ModeRequest.
func (t *Transmitter) RemoveRecipient(addr string) error {
	if t.recipients == nil {
		return errors.New("rtptransmit: RemoveRecipient called outside request mode")
	}
	return t.recipients.Remove(addr)
}

// Send fragments payload into MTU-sized RTP packets starting at the given
// sample-index timestamp and transmits each to the configured destination
// set, satisfying audiobackend.Sender. Only the first fragment carries the
// marker bit.
func (t *Transmitter) Send(payload []byte, timestamp uint32, marker bool) error {
	frame := t.cfg.FrameSize
	maxFrames := (maxPayloadBytes / frame)
	if maxFrames < 1 {
		maxFrames = 1
	}
	maxBytes := maxFrames * frame

	var firstErr error
	offsetSamples := uint32(0)
	for off := 0; off < len(payload); off += maxBytes {
		end := off + maxBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]
		ts := timestamp + offsetSamples
		m := marker && off == 0
		if err := t.sendOne(chunk, ts, m); err != nil && firstErr == nil {
			firstErr = err
		}
		offsetSamples += uint32(len(chunk)/frame) * uint32(t.cfg.Channels)
	}
	return firstErr
}

func (t *Transmitter) sendOne(payload []byte, timestamp uint32, marker bool) error {
	buf := make([]byte, headerSize+len(payload))
	seq := uint16(t.seq.Add(1) - 1)
	buildHeader(buf, t.cfg.PayloadType, marker, seq, timestamp, t.ssrc)
	copy(buf[headerSize:], payload)
	// payload arrives host-endian; L16 on the wire is always big-endian.
	wire.SwapL16(buf[headerSize:])

	var err error
	switch t.cfg.Mode {
	case ModeRequest:
		err = t.sendToRecipients(buf)
	default:
		_, err = t.conn.Write(buf)
	}
	if err != nil {
		return err
	}

	sent := t.packetsSent.Add(1)
	t.bytesSent.Add(uint64(len(payload)))
	if sent%progressInterval == 0 {
		t.log.Info("transmit progress",
			"sequence", seq, "timestamp", timestamp, "packets_sent", sent, "payload_type", t.cfg.PayloadType)
	}
	return nil
}

func (t *Transmitter) sendToRecipients(buf []byte) error {
	var firstErr error
	for _, addr := range t.recipients.List() {
		conn := t.connV4
		if addr.Addr().Is6() && !addr.Addr().Is4In6() {
			conn = t.connV6
		}
		if conn == nil {
			continue
		}
		udpAddr := net.UDPAddrFromAddrPort(addr)
		if _, err := conn.WriteToUDP(buf, udpAddr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PacketsSent, BytesSent, and RecipientCount satisfy
// internal/metrics.TransmitStatsProvider.
func (t *Transmitter) PacketsSent() uint64 { return t.packetsSent.Load() }
func (t *Transmitter) BytesSent() uint64   { return t.bytesSent.Load() }
func (t *Transmitter) RecipientCount() int {
	if t.recipients == nil {
		return 0
	}
	return t.recipients.Count()
}

// Close releases the transmitter's sockets.
func (t *Transmitter) Close() error {
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	if t.connV4 != nil {
		if e := t.connV4.Close(); err == nil {
			err = e
		}
	}
	if t.connV6 != nil {
		if e := t.connV6.Close(); err == nil {
			err = e
		}
	}
	return err
}

func applyModeSockopts(conn *net.UDPConn, cfg Config) error {
	switch cfg.Mode {
	case ModeBroadcast:
		return controlSocket(conn, func(fd int) error {
			return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
	case ModeMulticast:
		return controlSocket(conn, func(fd int) error {
			ttl := cfg.MulticastTTL
			if ttl <= 0 {
				ttl = 1
			}
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); err != nil {
				return err
			}
			loop := 0
			if cfg.MulticastLoop {
				loop = 1
			}
			return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, loop)
		})
	default:
		return nil
	}
}

func raiseSendBuffer(conn *net.UDPConn, log *slog.Logger) {
	if err := controlSocket(conn, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferBytes)
	}); err != nil {
		log.Warn("failed to raise send buffer", "error", err)
	}
}

func controlSocket(conn *net.UDPConn, fn func(fd int) error) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}
