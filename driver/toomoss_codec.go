package driver

import "github.com/LoveWonYoung/asebacan/tp"

// USB2XXX CANFD_MSG 中 ID 的标志位
const (
	toomossExtFlag = 0x80000000 // 扩展帧
	toomossRtrFlag = 0x40000000 // 远程帧
	toomossFDFlag  = 0x04       // Flags: CANFD帧
)

// toomossInitConfig mirrors CANFD_INIT_CONFIG of USB2XXX.dll.
type toomossInitConfig struct {
	Mode         byte
	ISOCRCEnable byte
	RetrySend    byte
	ResEnable    byte
	NBTBRP       byte
	NBTSEG1      byte
	NBTSEG2      byte
	NBTSJW       byte
	DBTBRP       byte
	DBTSEG1      byte
	DBTSEG2      byte
	DBTSJW       byte
	res          [8]byte
}

// toomossMsg mirrors CANFD_MSG of USB2XXX.dll.
type toomossMsg struct {
	ID        uint32
	DLC       byte
	Flags     byte
	res0      byte
	res1      byte
	TimeStamp uint32
	Data      [64]byte
}

// encodeToomossMsg builds a classic standard frame; the adapter sends it
// without the FD flag.
func encodeToomossMsg(f tp.Frame) toomossMsg {
	m := toomossMsg{ID: uint32(f.ID), DLC: f.Len}
	copy(m.Data[:], f.Payload())
	return m
}

// decodeToomossMsg reports false for extended, remote and CAN FD frames.
func decodeToomossMsg(m toomossMsg) (tp.Frame, bool) {
	if m.ID&(toomossExtFlag|toomossRtrFlag) != 0 || m.Flags&toomossFDFlag != 0 {
		return tp.Frame{}, false
	}
	if m.ID > 0x7FF || m.DLC > tp.MaxFrameData {
		return tp.Frame{}, false
	}
	f := tp.Frame{ID: uint16(m.ID), Len: m.DLC}
	copy(f.Data[:], m.Data[:m.DLC])
	return f, true
}
