// Package wire defines the framing shared by the speaker engine, the
// controlling server, and the decoder-to-speaker connection: the
// speaker/server control record and the stream format header.
//
// Field layout follows the original speaker-protocol record exactly
// (message kind, numeric payload, fixed-size track id) so that the two
// ends never need to agree on anything beyond this package.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// MaxTrackID is the maximum length of a track id, including the
// terminating zero byte, matching the original protocol's 24-byte field.
const MaxTrackID = 24

// MessageKind identifies the type of a Message exchanged between the
// speaker engine and the controlling server.
type MessageKind int32

// Messages sent from the controlling server to the speaker engine.
const (
	Play MessageKind = iota + 1
	Pause
	Resume
	Cancel
	Reload
)

// Messages sent from the speaker engine to the controlling server.
const (
	Paused MessageKind = iota + 128
	Finished
	Unknown
	Playing
	Ready
	Stillborn
	Arrived
)

// String returns a human-readable name for the message kind, used in logs.
func (k MessageKind) String() string {
	switch k {
	case Play:
		return "PLAY"
	case Pause:
		return "PAUSE"
	case Resume:
		return "RESUME"
	case Cancel:
		return "CANCEL"
	case Reload:
		return "RELOAD"
	case Paused:
		return "PAUSED"
	case Finished:
		return "FINISHED"
	case Unknown:
		return "UNKNOWN"
	case Playing:
		return "PLAYING"
	case Ready:
		return "READY"
	case Stillborn:
		return "STILLBORN"
	case Arrived:
		return "ARRIVED"
	default:
		return fmt.Sprintf("MSG(%d)", int32(k))
	}
}

// Message is one record in the speaker-server protocol: a kind, a numeric
// payload (seconds elapsed, or unused for commands that carry none), and
// a fixed-size track id field.
type Message struct {
	Kind MessageKind
	Data int64
	ID   string
}

// recordSize is the fixed on-wire size of a Message: 4 bytes kind +
// 8 bytes data + MaxTrackID bytes of id.
const recordSize = 4 + 8 + MaxTrackID

// WriteMessage writes m to w in the fixed-layout record format. It does not
// buffer: callers that write many messages should wrap w in a *bufio.Writer
// and Flush themselves.
func WriteMessage(w io.Writer, m Message) error {
	if len(m.ID) >= MaxTrackID {
		return fmt.Errorf("wire: track id %q exceeds %d bytes", m.ID, MaxTrackID-1)
	}

	var buf [recordSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Kind))
	binary.BigEndian.PutUint64(buf[4:12], uint64(m.Data))
	copy(buf[12:12+MaxTrackID], m.ID)

	_, err := w.Write(buf[:])
	return err
}

// ReadMessage reads one fixed-layout record from r. It returns io.EOF
// (unwrapped) when the stream ends cleanly before any bytes of the next
// record are read, matching the speaker protocol's "0 on EOF" convention.
func ReadMessage(r io.Reader) (Message, error) {
	var buf [recordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Message{}, fmt.Errorf("wire: short read on control record: %w", err)
		}
		return Message{}, err
	}

	kind := MessageKind(binary.BigEndian.Uint32(buf[0:4]))
	data := int64(binary.BigEndian.Uint64(buf[4:12]))
	idBytes := buf[12 : 12+MaxTrackID]
	n := 0
	for n < len(idBytes) && idBytes[n] != 0 {
		n++
	}

	return Message{Kind: kind, Data: data, ID: string(idBytes[:n])}, nil
}

// StreamFormat describes the process-global PCM sample format: rate in Hz,
// channel count, and bits per sample. It carries no signedness field.
// Endianness of PCM on the wire between decoder and speaker is always the
// host's native order; endianness only becomes relevant when producing the
// RTP wire format, which is always big-endian per RFC3550's L16 profile.
type StreamFormat struct {
	Rate     uint32
	Channels uint8
	Bits     uint8
}

// Equal reports whether two formats describe the same sample layout.
func (f StreamFormat) Equal(o StreamFormat) bool {
	return f.Rate == o.Rate && f.Channels == o.Channels && f.Bits == o.Bits
}

// BytesPerFrame returns the number of bytes occupied by one frame (one
// sample per channel) in this format.
func (f StreamFormat) BytesPerFrame() int {
	return int(f.Channels) * int(f.Bits) / 8
}

// HostLittleEndian reports whether this process's native byte order is
// little-endian, determined once at startup.
var HostLittleEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// SwapL16 byte-swaps every 16-bit sample in buf in place if and only if the
// host is little-endian; it is a no-op on a big-endian host. L16 RTP
// payloads are always big-endian on the wire (§4.5/§4.7), while PCM held
// in memory (ring buffers, jitter-buffer packets, the local sound API) is
// host-endian; this call converts between the two in either direction,
// since swapping a pair of bytes is its own inverse. buf's length should be
// a multiple of 2; any trailing odd byte is left untouched.
func SwapL16(buf []byte) {
	if !HostLittleEndian {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}

// WriteHandshakeHeader writes the 32-bit native-endian length followed by
// the track id, as the decoder sends when opening a connection to the
// speaker engine. "Native-endian" here means the host's own order, since
// both ends of this connection run on the same machine.
func WriteHandshakeHeader(w io.Writer, order binary.ByteOrder, trackID string) error {
	var lenBuf [4]byte
	order.PutUint32(lenBuf[:], uint32(len(trackID)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, trackID)
	return err
}

// ReadHandshakeHeader reads the length-prefixed track id sent by a decoder
// opening a new connection to the speaker engine.
func ReadHandshakeHeader(r *bufio.Reader, order binary.ByteOrder) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := order.Uint32(lenBuf[:])
	if n == 0 || n > 4096 {
		return "", fmt.Errorf("wire: implausible track id length %d", n)
	}
	idBytes := make([]byte, n)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return "", err
	}
	return string(idBytes), nil
}
