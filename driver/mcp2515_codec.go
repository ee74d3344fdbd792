package driver

import (
	"fmt"

	"github.com/LoveWonYoung/asebacan/tp"
)

// MCP2515 SPI instructions.
const (
	mcpReset      = 0xC0
	mcpRead       = 0x03
	mcpWrite      = 0x02
	mcpBitModify  = 0x05
	mcpReadStatus = 0xA0
	mcpLoadTx0    = 0x40 // load TXB0 starting at TXB0SIDH
	mcpRTS0       = 0x81 // request to send TXB0
	mcpReadRx0    = 0x90 // read RXB0 starting at RXB0SIDH, clears RX0IF
	mcpReadRx1    = 0x94
)

// MCP2515 registers.
const (
	mcpCANSTAT  = 0x0E
	mcpCANCTRL  = 0x0F
	mcpCNF3     = 0x28
	mcpCNF2     = 0x29
	mcpCNF1     = 0x2A
	mcpCANINTE  = 0x2B
	mcpCANINTF  = 0x2C
	mcpTXB0CTRL = 0x30
	mcpRXB0CTRL = 0x60
	mcpRXB1CTRL = 0x70
)

const (
	mcpStatusRX0IF  = 0x01
	mcpStatusRX1IF  = 0x02
	mcpStatusTXREQ0 = 0x04

	mcpModeMask   = 0xE0
	mcpModeNormal = 0x00
	mcpModeConfig = 0x80

	mcpRxAnyFrame = 0x60 // RXM = 11, filters off
	mcpRxRollover = 0x04 // BUKT

	mcpSIDLExtended = 0x08 // IDE
	mcpSIDLRemote   = 0x10 // SRR
	mcpDLCRemote    = 0x40 // RTR

	mcpFrameSize = 13 // SIDH SIDL EID8 EID0 DLC D0..D7
)

type mcpTiming struct {
	cnf1, cnf2, cnf3 byte
}

// mcpTimings maps oscillator (Hz) and bitrate to the CNF register values.
var mcpTimings = map[int]map[int]mcpTiming{
	8000000: {
		125000:  {0x01, 0xB1, 0x85},
		250000:  {0x00, 0xB1, 0x85},
		500000:  {0x00, 0x90, 0x82},
		1000000: {0x00, 0x80, 0x80},
	},
	16000000: {
		125000:  {0x03, 0xF0, 0x86},
		250000:  {0x41, 0xF1, 0x85},
		500000:  {0x00, 0xF0, 0x86},
		1000000: {0x00, 0xD0, 0x82},
	},
}

func mcpBitTiming(oscillatorHz, bitrate int) (mcpTiming, error) {
	byRate, ok := mcpTimings[oscillatorHz]
	if !ok {
		return mcpTiming{}, fmt.Errorf("mcp2515: unsupported oscillator %d Hz", oscillatorHz)
	}
	t, ok := byRate[bitrate]
	if !ok {
		return mcpTiming{}, fmt.Errorf("mcp2515: unsupported bitrate %d with %d Hz oscillator", bitrate, oscillatorHz)
	}
	return t, nil
}

// encodeMCPFrame lays f out as the TX buffer registers expect.
func encodeMCPFrame(f tp.Frame) [mcpFrameSize]byte {
	var b [mcpFrameSize]byte
	id := f.ID & canSffMask
	b[0] = byte(id >> 3)
	b[1] = byte(id&0x07) << 5
	n := f.Len
	if n > tp.MaxFrameData {
		n = tp.MaxFrameData
	}
	b[4] = n
	copy(b[5:], f.Data[:n])
	return b
}

// decodeMCPFrame parses an RX buffer. ok is false for extended or remote frames.
func decodeMCPFrame(b []byte) (f tp.Frame, ok bool, err error) {
	if len(b) < mcpFrameSize {
		return f, false, fmt.Errorf("mcp2515: need %d bytes, got %d", mcpFrameSize, len(b))
	}
	if b[1]&(mcpSIDLExtended|mcpSIDLRemote) != 0 {
		return f, false, nil
	}
	f.ID = uint16(b[0])<<3 | uint16(b[1]>>5)
	f.Len = b[4] & 0x0F
	if f.Len > tp.MaxFrameData {
		return tp.Frame{}, false, fmt.Errorf("mcp2515: bad DLC %d", f.Len)
	}
	copy(f.Data[:], b[5:5+f.Len])
	return f, true, nil
}
