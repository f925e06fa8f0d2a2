package speaker

import (
	"encoding/binary"
	"unsafe"
)

// nativeEndian is the host's own byte order, used for the decoder
// handshake's length prefix: 32-bit native-endian length, native because
// the decoder and the speaker engine always run on the same machine.
var nativeEndian = func() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()
