package rtpreceive

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed 12-byte RTP header this receiver understands:
// no CSRC list, header extension packets are rejected outright.
const headerSize = 12

// parsedHeader holds the fields of an RTP header this receiver cares about.
type parsedHeader struct {
	marker      bool
	payloadType uint8
	sequence    uint16
	timestamp   uint32
	extension   bool
}

// errUnsupportedPayload is returned for any payload type other than L16
// stereo (10) or mono (11); receiving one is treated as fatal rather than
// silently dropped, since it means the sender and receiver have drifted
// on format.
type errUnsupportedPayload struct{ pt uint8 }

func (e errUnsupportedPayload) Error() string {
	return fmt.Sprintf("rtpreceive: unsupported payload type %d (only L16 stereo/mono are supported)", e.pt)
}

// parseHeader validates and parses the RTP header prefix of pkt. It
// rejects packets shorter than the header and reports the extension bit
// (the caller drops those) separately from payload-type support (fatal).
func parseHeader(pkt []byte) (parsedHeader, []byte, error) {
	if len(pkt) < headerSize {
		return parsedHeader{}, nil, fmt.Errorf("rtpreceive: packet too short (%d bytes)", len(pkt))
	}
	version := pkt[0] >> 6
	if version != 2 {
		return parsedHeader{}, nil, fmt.Errorf("rtpreceive: unsupported RTP version %d", version)
	}
	h := parsedHeader{
		extension:   pkt[0]&0x10 != 0,
		marker:      pkt[1]&0x80 != 0,
		payloadType: pkt[1] & 0x7f,
		sequence:    binary.BigEndian.Uint16(pkt[2:4]),
		timestamp:   binary.BigEndian.Uint32(pkt[4:8]),
	}
	return h, pkt[headerSize:], nil
}

// PayloadTypeStereo and PayloadTypeMono mirror the values
// internal/rtptransmit emits; duplicated here rather than imported to
// keep the receiver independent of the transmit-only package.
const (
	PayloadTypeStereo uint8 = 10
	PayloadTypeMono    uint8 = 11
)

func payloadSupported(pt uint8) bool {
	return pt == PayloadTypeStereo || pt == PayloadTypeMono
}
