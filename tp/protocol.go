package tp

import (
	"encoding/binary"
	"fmt"
)

// FrameCount returns how many frames a message of n bytes occupies on the bus.
func FrameCount(n int) int {
	if n <= MaxFrameData {
		return 1
	}
	return 1 + (n-FirstFrameCapacity+MaxFrameData-1)/MaxFrameData
}

// Segment splits data into the frames source would put on the bus.
// The transport itself segments straight into its frame pool; Segment is
// the allocating form for tools and tests.
func Segment(source NodeID, data []byte) ([]Frame, error) {
	if len(data) == 0 {
		return nil, InvalidMessageError{TransportError: NewTransportError("empty message")}
	}
	if len(data) > maxLengthHeader {
		return nil, MessageTooLargeError{Size: len(data), Max: maxLengthHeader}
	}
	frames := make([]Frame, 0, FrameCount(len(data)))
	segment(source, data, func(f Frame, _ bool) {
		frames = append(frames, f)
	})
	return frames, nil
}

// segment emits the frames of data in bus order. last is set on the final one.
func segment(source NodeID, data []byte, emit func(f Frame, last bool)) {
	n := len(data)
	if n <= MaxFrameData {
		var f Frame
		f.ID = MakeID(KindSmall, source)
		f.Len = uint8(copy(f.Data[:], data))
		emit(f, true)
		return
	}

	var first Frame
	first.ID = MakeID(KindStart, source)
	binary.LittleEndian.PutUint16(first.Data[:lengthHeaderSize], uint16(n))
	offset := copy(first.Data[lengthHeaderSize:], data)
	first.Len = MaxFrameData
	emit(first, false)

	for offset < n {
		var f Frame
		f.ID = MakeID(KindData, source)
		k := copy(f.Data[:], data[offset:])
		f.Len = uint8(k)
		offset += k
		emit(f, offset == n)
	}
}

// dropReason classifies why an inbound frame or message was discarded.
type dropReason uint8

const (
	dropNone dropReason = iota
	dropOrphan
	dropOversized
	dropInvalid
	dropSlotsExhausted
	dropDispatchFull
	dropInterrupted
)

func (r dropReason) String() string {
	switch r {
	case dropOrphan:
		return "orphan"
	case dropOversized:
		return "oversized"
	case dropInvalid:
		return "invalid"
	case dropSlotsExhausted:
		return "slots_exhausted"
	case dropDispatchFull:
		return "dispatch_full"
	case dropInterrupted:
		return "interrupted"
	default:
		return "none"
	}
}

// dropError builds the error reported for a drop caused by frame f.
func dropError(reason dropReason, f Frame, maxMessageSize int) error {
	source := f.Source()
	switch reason {
	case dropOrphan:
		return OrphanContinuationError{Source: source}
	case dropOversized:
		declared := int(binary.LittleEndian.Uint16(f.Data[:lengthHeaderSize]))
		return MessageTooLargeError{Size: declared, Max: maxMessageSize}
	case dropSlotsExhausted:
		return PoolExhaustedError{TransportError: NewTransportError(
			fmt.Sprintf("no free reassembly slot for node %d", source))}
	case dropDispatchFull:
		return DispatchQueueFullError{Source: source}
	case dropInterrupted:
		return InterruptedMessageError{Source: source}
	default:
		return InvalidFrameError{TransportError: NewTransportError(fmt.Sprintf("malformed frame %s", f))}
	}
}

// reassemblySlot accumulates one in-progress message from one source.
type reassemblySlot struct {
	active bool
	source NodeID
	total  int
	got    int
	buf    []byte
}

// reassembler owns a fixed set of slots. At most one slot is active per source.
type reassembler struct {
	slots          []reassemblySlot
	maxMessageSize int
}

func newReassembler(slots, maxMessageSize int) *reassembler {
	r := &reassembler{
		slots:          make([]reassemblySlot, slots),
		maxMessageSize: maxMessageSize,
	}
	for i := range r.slots {
		r.slots[i].buf = make([]byte, maxMessageSize)
	}
	return r
}

func (r *reassembler) find(source NodeID) *reassemblySlot {
	for i := range r.slots {
		if r.slots[i].active && r.slots[i].source == source {
			return &r.slots[i]
		}
	}
	return nil
}

func (r *reassembler) claim() *reassemblySlot {
	for i := range r.slots {
		if !r.slots[i].active {
			return &r.slots[i]
		}
	}
	return nil
}

// abandon discards the partial message of source, if any.
func (r *reassembler) abandon(source NodeID) bool {
	s := r.find(source)
	if s == nil {
		return false
	}
	s.active = false
	s.got = 0
	s.total = 0
	return true
}

func (r *reassembler) active() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].active {
			n++
		}
	}
	return n
}

func (r *reassembler) reset() {
	for i := range r.slots {
		r.slots[i].active = false
		r.slots[i].got = 0
		r.slots[i].total = 0
	}
}

// feed processes one inbound frame. When a message completes, msg holds its
// bytes; they stay valid until the next call. interrupted reports that a
// partial message of the same source was discarded on the way.
func (r *reassembler) feed(f Frame) (msg []byte, source NodeID, interrupted bool, reason dropReason) {
	kind, source := SplitID(f.ID)
	if f.Validate() != nil || !kind.Valid() {
		return nil, source, false, dropInvalid
	}

	switch kind {
	case KindSmall:
		interrupted = r.abandon(source)
		if f.Len == 0 {
			return nil, source, interrupted, dropInvalid
		}
		return f.Data[:f.Len], source, interrupted, dropNone

	case KindStart:
		interrupted = r.abandon(source)
		if f.Len < lengthHeaderSize {
			return nil, source, interrupted, dropInvalid
		}
		total := int(binary.LittleEndian.Uint16(f.Data[:lengthHeaderSize]))
		if total == 0 {
			return nil, source, interrupted, dropInvalid
		}
		if total > r.maxMessageSize {
			return nil, source, interrupted, dropOversized
		}
		s := r.claim()
		if s == nil {
			return nil, source, interrupted, dropSlotsExhausted
		}
		s.active = true
		s.source = source
		s.total = total
		s.got = copy(s.buf[:total], f.Data[lengthHeaderSize:f.Len])
		msg = r.complete(s)
		return msg, source, interrupted, dropNone

	case KindData:
		s := r.find(source)
		if s == nil {
			return nil, source, false, dropOrphan
		}
		s.got += copy(s.buf[s.got:s.total], f.Data[:f.Len])
		return r.complete(s), source, false, dropNone
	}

	return nil, source, false, dropInvalid
}

// complete returns the message and idles the slot once every byte arrived.
func (r *reassembler) complete(s *reassemblySlot) []byte {
	if s.got < s.total {
		return nil
	}
	s.active = false
	return s.buf[:s.total]
}
