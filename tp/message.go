package tp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxFrameData is the payload capacity of a classical CAN frame.
const MaxFrameData = 8

// Frame is the unit the hardware driver moves: an 11-bit identifier, a
// payload length (0..8) and the 8 byte payload.
type Frame struct {
	ID   uint16
	Len  uint8
	Data [MaxFrameData]byte
}

// NewFrame builds a validated frame carrying a copy of payload.
func NewFrame(id uint16, payload []byte) (Frame, error) {
	var f Frame
	if id > maxID {
		return f, InvalidFrameError{TransportError: NewTransportError(fmt.Sprintf("identifier 0x%X does not fit 11 bits", id))}
	}
	if len(payload) > MaxFrameData {
		return f, InvalidFrameError{TransportError: NewTransportError(fmt.Sprintf("payload of %d bytes does not fit a frame", len(payload)))}
	}
	f.ID = id
	f.Len = uint8(len(payload))
	copy(f.Data[:], payload)
	return f, nil
}

// MustFrame is NewFrame for tests and examples; it panics on invalid input.
func MustFrame(id uint16, payload []byte) Frame {
	f, err := NewFrame(id, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Validate returns an error if the identifier or length is out of range.
func (f Frame) Validate() error {
	if f.ID > maxID {
		return InvalidFrameError{TransportError: NewTransportError(fmt.Sprintf("identifier 0x%X does not fit 11 bits", f.ID))}
	}
	if f.Len > MaxFrameData {
		return InvalidFrameError{TransportError: NewTransportError(fmt.Sprintf("length %d exceeds %d", f.Len, MaxFrameData))}
	}
	return nil
}

// Payload returns the used part of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxFrameData {
		n = MaxFrameData
	}
	return f.Data[:n]
}

// Kind returns the frame kind encoded in the identifier.
func (f Frame) Kind() Kind {
	k, _ := SplitID(f.ID)
	return k
}

// Source returns the sending node encoded in the identifier.
func (f Frame) Source() NodeID {
	_, s := SplitID(f.ID)
	return s
}

func (f Frame) String() string {
	return fmt.Sprintf("<Frame %03x %s src=%d [%d] \"%s\">",
		f.ID, f.Kind(), f.Source(), f.Len, strings.ToUpper(hex.EncodeToString(f.Payload())))
}

// Message is a reassembled inbound message.
type Message struct {
	Source NodeID
	Data   []byte
}

// State of the transmit side.
type State uint8

const (
	StateIdle State = iota
	StateTransmit
)
