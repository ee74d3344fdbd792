package tp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePool_AcquireRelease(t *testing.T) {
	p := NewFramePool(3)
	assert.Equal(t, 3, p.Available())

	var slots []int
	for i := 0; i < 3; i++ {
		s, err := p.Acquire()
		require.NoError(t, err)
		assert.True(t, p.InUse(s))
		slots = append(slots, s)
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, slots)

	_, err := p.Acquire()
	var exhausted PoolExhaustedError
	require.True(t, errors.As(err, &exhausted))

	*p.Frame(slots[1]) = MustFrame(0x12, []byte{1})
	p.Release(slots[1])
	assert.False(t, p.InUse(slots[1]))
	assert.Equal(t, Frame{}, *p.Frame(slots[1]), "released slot must be cleared")

	// double and out-of-range release are ignored
	p.Release(slots[1])
	p.Release(-1)
	p.Release(99)
	assert.Equal(t, 1, p.Available())

	s, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, slots[1], s)

	p.Reset()
	assert.Equal(t, p.Cap(), p.Available())
}

func TestTxQueue_FIFO(t *testing.T) {
	q := newTxQueue(2)
	assert.True(t, q.push(txEntry{slot: 4}))
	assert.True(t, q.push(txEntry{slot: 7, last: true}))
	assert.False(t, q.push(txEntry{slot: 9}))

	e, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 4, e.slot)
	assert.True(t, q.push(txEntry{slot: 1}))

	e, _ = q.pop()
	assert.Equal(t, txEntry{slot: 7, last: true}, e)
	e, _ = q.pop()
	assert.Equal(t, 1, e.slot)
	_, ok = q.pop()
	assert.False(t, ok)
}

func TestDispatchQueue_Bounded(t *testing.T) {
	q := newDispatchQueue(2, 16)
	assert.True(t, q.push(1, []byte("one")))
	assert.True(t, q.push(2, []byte("two")))
	assert.False(t, q.push(3, []byte("three")))

	e, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, NodeID(1), e.source)
	assert.Equal(t, "one", string(e.buf[:e.size]))
	q.drop()

	e, _ = q.peek()
	assert.Equal(t, "two", string(e.buf[:e.size]))
	q.drop()
	q.drop()
	assert.Equal(t, 0, q.len())
}

func TestReassembler_Feed(t *testing.T) {
	tests := []struct {
		name   string
		frames []Frame
		want   []byte
		drops  []dropReason
	}{
		{
			name:   "small message",
			frames: []Frame{MustFrame(MakeID(KindSmall, 3), []byte{9, 8, 7})},
			want:   []byte{9, 8, 7},
		},
		{
			name:   "empty small frame",
			frames: []Frame{{ID: MakeID(KindSmall, 3)}},
			drops:  []dropReason{dropInvalid},
		},
		{
			name:   "start frame without header",
			frames: []Frame{MustFrame(MakeID(KindStart, 3), []byte{1})},
			drops:  []dropReason{dropInvalid},
		},
		{
			name:   "start frame declaring zero",
			frames: []Frame{MustFrame(MakeID(KindStart, 3), []byte{0, 0, 1, 2})},
			drops:  []dropReason{dropInvalid},
		},
		{
			name:   "start frame completing a short message",
			frames: []Frame{MustFrame(MakeID(KindStart, 3), []byte{3, 0, 1, 2, 3, 0xEE})},
			want:   []byte{1, 2, 3},
		},
		{
			name:   "oversized declaration",
			frames: []Frame{MustFrame(MakeID(KindStart, 3), []byte{0x00, 0x02, 1, 2, 3, 4, 5, 6})},
			drops:  []dropReason{dropOversized},
		},
		{
			name:   "orphan continuation",
			frames: []Frame{MustFrame(MakeID(KindData, 3), []byte{1, 2})},
			drops:  []dropReason{dropOrphan},
		},
		{
			name:   "reserved kind",
			frames: []Frame{MustFrame(MakeID(Kind(2), 3), []byte{1})},
			drops:  []dropReason{dropInvalid},
		},
		{
			name:   "identifier beyond 11 bits",
			frames: []Frame{{ID: 0xB05, Len: 3, Data: [8]byte{1, 2, 3}}},
			drops:  []dropReason{dropInvalid},
		},
		{
			name:   "length beyond 8",
			frames: []Frame{{ID: MakeID(KindSmall, 3), Len: 9}},
			drops:  []dropReason{dropInvalid},
		},
		{
			name: "wide identifier leaves the partial message alone",
			frames: []Frame{
				MustFrame(MakeID(KindStart, 5), []byte{10, 0, 0, 1, 2, 3, 4, 5}),
				// 0x905 would alias a start frame of node 5 if masked
				{ID: 0x905, Len: 8, Data: [8]byte{20, 0, 9, 9, 9, 9, 9, 9}},
				MustFrame(MakeID(KindData, 5), []byte{6, 7, 8, 9}),
			},
			want:  sequence(10),
			drops: []dropReason{dropInvalid},
		},
		{
			name: "continuation bytes beyond the declared total are ignored",
			frames: []Frame{
				MustFrame(MakeID(KindStart, 3), []byte{10, 0, 0, 1, 2, 3, 4, 5}),
				MustFrame(MakeID(KindData, 3), []byte{6, 7, 8, 9, 0xAA, 0xBB, 0xCC, 0xDD}),
			},
			want: sequence(10),
		},
		{
			name: "second start interrupts the first",
			frames: []Frame{
				MustFrame(MakeID(KindStart, 3), []byte{20, 0, 0, 1, 2, 3, 4, 5}),
				MustFrame(MakeID(KindSmall, 3), []byte{0x42}),
			},
			want:  []byte{0x42},
			drops: []dropReason{dropInterrupted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReassembler(2, 256)
			var got []byte
			var drops []dropReason
			for _, f := range tt.frames {
				msg, _, interrupted, reason := r.feed(f)
				if interrupted {
					drops = append(drops, dropInterrupted)
				}
				if reason != dropNone {
					drops = append(drops, reason)
				}
				if msg != nil {
					got = append([]byte{}, msg...)
				}
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.drops, drops)
			assert.Equal(t, 0, r.active(), "no slot may stay bound")
		})
	}
}

func TestReassembler_SlotsExhausted(t *testing.T) {
	r := newReassembler(1, 64)
	_, _, _, reason := r.feed(MustFrame(MakeID(KindStart, 1), []byte{12, 0, 0, 1, 2, 3, 4, 5}))
	assert.Equal(t, dropNone, reason)
	_, _, _, reason = r.feed(MustFrame(MakeID(KindStart, 2), []byte{12, 0, 0, 1, 2, 3, 4, 5}))
	assert.Equal(t, dropSlotsExhausted, reason)

	// the partial message of node 1 is untouched
	msg, src, _, reason := r.feed(MustFrame(MakeID(KindData, 1), []byte{6, 7, 8, 9, 10, 11}))
	assert.Equal(t, dropNone, reason)
	assert.Equal(t, NodeID(1), src)
	assert.Equal(t, sequence(12), msg)
}

func TestDropError(t *testing.T) {
	f := MustFrame(MakeID(KindStart, 5), []byte{0x00, 0x04})
	var tooLarge MessageTooLargeError
	require.True(t, errors.As(dropError(dropOversized, f, 512), &tooLarge))
	assert.Equal(t, 1024, tooLarge.Size)
	assert.Equal(t, 512, tooLarge.Max)

	var orphan OrphanContinuationError
	require.True(t, errors.As(dropError(dropOrphan, f, 512), &orphan))
	assert.Equal(t, NodeID(5), orphan.Source)

	var full DispatchQueueFullError
	assert.True(t, errors.As(dropError(dropDispatchFull, f, 512), &full))
	var interrupted InterruptedMessageError
	assert.True(t, errors.As(dropError(dropInterrupted, f, 512), &interrupted))
	var exhausted PoolExhaustedError
	assert.True(t, errors.As(dropError(dropSlotsExhausted, f, 512), &exhausted))
	var invalid InvalidFrameError
	assert.True(t, errors.As(dropError(dropInvalid, f, 512), &invalid))
}
