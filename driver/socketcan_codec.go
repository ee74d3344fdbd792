package driver

import (
	"encoding/binary"
	"fmt"

	"github.com/LoveWonYoung/asebacan/tp"
)

// Linux "struct can_frame" layout (16 bytes, little endian):
//
//	0..3  can_id (with flags: EFF/RTR/ERR)
//	4     can_dlc
//	5..7  padding
//	8..15 data
const (
	canFrameSize = 16

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canSffMask = 0x7FF
)

func encodeCANFrame(f tp.Frame) [canFrameSize]byte {
	var buf [canFrameSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.ID)&canSffMask)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf
}

// decodeCANFrame parses one can_frame. ok is false for frames the transport
// never uses (extended, remote, error); err is set for malformed input.
func decodeCANFrame(b []byte) (f tp.Frame, ok bool, err error) {
	if len(b) < canFrameSize {
		return f, false, fmt.Errorf("socketcan: need %d bytes, got %d", canFrameSize, len(b))
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	if id&(canEffFlag|canRtrFlag|canErrFlag) != 0 {
		return f, false, nil
	}
	f.ID = uint16(id & canSffMask)
	f.Len = b[4]
	copy(f.Data[:], b[8:16])
	if err := f.Validate(); err != nil {
		return tp.Frame{}, false, err
	}
	return f, true, nil
}
