package rtptransmit

import "testing"

func TestBuildHeaderFieldLayout(t *testing.T) {
	buf := make([]byte, headerSize)
	buildHeader(buf, PayloadTypeStereo, true, 0x1234, 0xdeadbeef, 0xcafef00d)

	if buf[0] != 0x80 {
		t.Errorf("byte 0 = %#x, want 0x80 (V=2,P=0,X=0,CC=0)", buf[0])
	}
	if want := byte(0x80 | PayloadTypeStereo); buf[1] != want {
		t.Errorf("byte 1 = %#x, want %#x (marker set, PT=%d)", buf[1], want, PayloadTypeStereo)
	}
	if seq := uint16(buf[2])<<8 | uint16(buf[3]); seq != 0x1234 {
		t.Errorf("sequence = %#x, want 0x1234", seq)
	}
	ts := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if ts != 0xdeadbeef {
		t.Errorf("timestamp = %#x, want 0xdeadbeef", ts)
	}
	ssrc := uint32(buf[8])<<24 | uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])
	if ssrc != 0xcafef00d {
		t.Errorf("ssrc = %#x, want 0xcafef00d", ssrc)
	}
}

func TestBuildHeaderMarkerClear(t *testing.T) {
	buf := make([]byte, headerSize)
	buildHeader(buf, PayloadTypeMono, false, 0, 0, 0)
	if buf[1] != PayloadTypeMono {
		t.Errorf("byte 1 = %#x, want %#x (no marker)", buf[1], PayloadTypeMono)
	}
}
