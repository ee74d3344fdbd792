package tp

import "fmt"

// NodeID identifies a node on the bus. It occupies the low 8 bits of every
// CAN identifier the transport emits.
type NodeID uint8

// Kind is the frame kind carried in bits 8..10 of the CAN identifier.
type Kind uint8

const (
	// KindData is a continuation frame: up to 8 payload bytes.
	KindData Kind = 0x0
	// KindStart opens a multi-frame message. Bytes 0-1 hold the total
	// message length (little endian), bytes 2-7 the first payload bytes.
	KindStart Kind = 0x1
	// KindSmall carries a whole message of 1 to 8 bytes.
	KindSmall Kind = 0x3
)

const (
	kindShift  = 8
	sourceMask = 0xFF
	maxID      = 0x7FF

	lengthHeaderSize = 2
	// FirstFrameCapacity is the payload a KindStart frame can carry.
	FirstFrameCapacity = MaxFrameData - lengthHeaderSize
)

// IsStart reports whether frames of this kind open a message.
func (k Kind) IsStart() bool {
	return k == KindStart || k == KindSmall
}

// Valid reports whether k is one of the kinds the protocol defines.
func (k Kind) Valid() bool {
	return k == KindData || k == KindStart || k == KindSmall
}

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindStart:
		return "START"
	case KindSmall:
		return "SMALL"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(k))
	}
}

// MakeID builds the 11-bit CAN identifier for a frame of kind k sent by source.
func MakeID(k Kind, source NodeID) uint16 {
	return uint16(k&0x7)<<kindShift | uint16(source)
}

// SplitID is the inverse of MakeID.
func SplitID(id uint16) (Kind, NodeID) {
	return Kind((id & maxID) >> kindShift), NodeID(id & sourceMask)
}
