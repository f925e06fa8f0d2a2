package rtptransmit

import "encoding/binary"

// headerSize is the fixed RTP header length this module emits: no CSRC
// list, no header extension.
const headerSize = 12

// PayloadTypeStereo and PayloadTypeMono are the RTP payload type values
// for L16 44.1kHz stereo and mono, per RFC3551's static assignment table.
const (
	PayloadTypeStereo uint8 = 10
	PayloadTypeMono   uint8 = 11
)

// buildHeader writes a 12-byte RTP header into dst (which must be at
// least headerSize bytes), matching the teacher's buildRTPHeader shape:
// version 2, no padding, no extension, no CSRCs.
func buildHeader(dst []byte, payloadType uint8, marker bool, seq uint16, timestamp, ssrc uint32) {
	dst[0] = 0x80 // V=2, P=0, X=0, CC=0
	dst[1] = payloadType & 0x7f
	if marker {
		dst[1] |= 0x80
	}
	binary.BigEndian.PutUint16(dst[2:4], seq)
	binary.BigEndian.PutUint32(dst[4:8], timestamp)
	binary.BigEndian.PutUint32(dst[8:12], ssrc)
}
