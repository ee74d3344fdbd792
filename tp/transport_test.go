package tp

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDriver keeps every frame handed to it. Frames are acknowledged
// by the test through Transport.FrameSent.
type recordingDriver struct {
	mu        sync.Mutex
	frames    []Frame
	full      bool
	recvDrops int
	sendDrops int
}

func (d *recordingDriver) SendFrame(f Frame) {
	d.mu.Lock()
	d.frames = append(d.frames, f)
	d.mu.Unlock()
}

func (d *recordingDriver) RoomAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.full
}

func (d *recordingDriver) OnReceiveDrop() {
	d.mu.Lock()
	d.recvDrops++
	d.mu.Unlock()
}

func (d *recordingDriver) OnSendDrop() {
	d.mu.Lock()
	d.sendDrops++
	d.mu.Unlock()
}

func (d *recordingDriver) setFull(full bool) {
	d.mu.Lock()
	d.full = full
	d.mu.Unlock()
}

func (d *recordingDriver) take() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return Frame{}, false
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f, true
}

func (d *recordingDriver) counts() (recv, send int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recvDrops, d.sendDrops
}

// drain acknowledges frames until the transport stops handing out new ones.
func drain(tr *Transport, d *recordingDriver) []Frame {
	var out []Frame
	for {
		f, ok := d.take()
		if !ok {
			return out
		}
		out = append(out, f)
		tr.FrameSent()
	}
}

func newTestTransport(t *testing.T, id NodeID, cfg Config) (*Transport, *recordingDriver) {
	t.Helper()
	d := &recordingDriver{}
	tr, err := New(id, d, cfg)
	require.NoError(t, err)
	return tr, d
}

// linkDriver delivers every frame straight to peer and acknowledges it.
type linkDriver struct {
	self *Transport
	peer *Transport
}

func (l *linkDriver) SendFrame(f Frame) {
	l.peer.FrameReceived(f)
	l.self.FrameSent()
}

func (l *linkDriver) RoomAvailable() bool { return true }
func (l *linkDriver) OnReceiveDrop()      {}
func (l *linkDriver) OnSendDrop()         {}

func newLinkedPair(t *testing.T, cfg Config) (a, b *Transport) {
	t.Helper()
	la, lb := &linkDriver{}, &linkDriver{}
	a, err := New(1, la, cfg)
	require.NoError(t, err)
	b, err = New(2, lb, cfg)
	require.NoError(t, err)
	la.self, la.peer = a, b
	lb.self, lb.peer = b, a
	return a, b
}

func TestTransport_SingleFrameScenario(t *testing.T) {
	tx, txDrv := newTestTransport(t, 7, DefaultConfig())
	rx, _ := newTestTransport(t, 1, DefaultConfig())

	require.NoError(t, tx.Send([]byte{1, 2, 3, 4, 5}))
	frames := drain(tx, txDrv)
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{ID: MakeID(KindSmall, 7), Len: 5, Data: [8]byte{1, 2, 3, 4, 5, 0, 0, 0}}, frames[0])
	assert.True(t, frames[0].Kind().IsStart())

	rx.FrameReceived(frames[0])
	buf := make([]byte, 64)
	n, src := rx.Recv(buf)
	assert.Equal(t, 5, n)
	assert.Equal(t, NodeID(7), src)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf[:n])

	st := tx.Stats()
	assert.Equal(t, uint64(1), st.FramesSent)
	assert.Equal(t, uint64(1), st.MessagesSent)
	assert.Equal(t, 0, tx.TxPending())
}

func TestTransport_MultiFrameScenario(t *testing.T) {
	tx, txDrv := newTestTransport(t, 4, DefaultConfig())
	rx, _ := newTestTransport(t, 1, DefaultConfig())

	data := sequence(20)
	require.NoError(t, tx.Send(data))

	// only one frame is handed to the driver until it is acknowledged
	txDrv.mu.Lock()
	assert.Len(t, txDrv.frames, 1)
	txDrv.mu.Unlock()
	assert.Equal(t, 3, tx.TxPending())

	frames := drain(tx, txDrv)
	require.Len(t, frames, 3)
	assert.Equal(t, KindStart, frames[0].Kind())
	assert.Equal(t, uint8(8), frames[1].Len)
	assert.Equal(t, uint8(6), frames[2].Len)

	for i, f := range frames {
		rx.FrameReceived(f)
		if i < len(frames)-1 {
			assert.Equal(t, 0, rx.Pending())
			assert.Equal(t, 1, rx.PartialMessages())
		}
	}

	m, ok := rx.RecvMessage()
	require.True(t, ok)
	assert.Equal(t, NodeID(4), m.Source)
	assert.Equal(t, data, m.Data)
	assert.Equal(t, 0, rx.PartialMessages())
}

func TestTransport_InterruptedMessageScenario(t *testing.T) {
	rx, rxDrv := newTestTransport(t, 1, DefaultConfig())

	first, err := Segment(3, bytes.Repeat([]byte{0xAA}, 20))
	require.NoError(t, err)
	second, err := Segment(3, bytes.Repeat([]byte{0xBB}, 30))
	require.NoError(t, err)

	rx.FrameReceived(first[0])
	rx.FrameReceived(first[1])
	for _, f := range second {
		rx.FrameReceived(f)
	}

	m, ok := rx.RecvMessage()
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 30), m.Data)
	_, ok = rx.RecvMessage()
	assert.False(t, ok, "interrupted message must not be dispatched")

	st := rx.Stats()
	assert.Equal(t, uint64(1), st.Interrupted)
	assert.Equal(t, uint64(1), st.ReceivedDropped)
	recvDrops, _ := rxDrv.counts()
	assert.Equal(t, 1, recvDrops)

	var interrupted InterruptedMessageError
	require.True(t, errors.As(<-rx.ErrorChan, &interrupted))
	assert.Equal(t, NodeID(3), interrupted.Source)
}

func TestTransport_OrphanContinuation(t *testing.T) {
	rx, rxDrv := newTestTransport(t, 1, DefaultConfig())

	msg, err := Segment(4, sequence(30))
	require.NoError(t, err)
	orphan, err := Segment(9, sequence(20))
	require.NoError(t, err)

	rx.FrameReceived(msg[0])
	rx.FrameReceived(orphan[1])
	for _, f := range msg[1:] {
		rx.FrameReceived(f)
	}
	rx.FrameReceived(orphan[2])

	m, ok := rx.RecvMessage()
	require.True(t, ok)
	assert.Equal(t, NodeID(4), m.Source)
	assert.Equal(t, sequence(30), m.Data)

	st := rx.Stats()
	assert.Equal(t, uint64(2), st.Orphans)
	assert.Equal(t, uint64(2), st.ReceivedDropped)
	recvDrops, _ := rxDrv.counts()
	assert.Equal(t, 2, recvDrops)

	var orphanErr OrphanContinuationError
	require.True(t, errors.As(<-rx.ErrorChan, &orphanErr))
	assert.Equal(t, NodeID(9), orphanErr.Source)
}

func TestTransport_DropsIdentifierBeyond11Bits(t *testing.T) {
	rx, rxDrv := newTestTransport(t, 1, DefaultConfig())

	rx.FrameReceived(Frame{ID: 0xB05, Len: 3, Data: [8]byte{1, 2, 3}})
	rx.FrameReceived(Frame{ID: 0xB05, Len: 4})

	buf := make([]byte, 16)
	n, _ := rx.Recv(buf)
	assert.Equal(t, 0, n)

	st := rx.Stats()
	assert.Equal(t, uint64(0), st.MessagesReceived)
	assert.Equal(t, uint64(2), st.Invalid)
	assert.Equal(t, uint64(2), st.ReceivedDropped)
	recvDrops, _ := rxDrv.counts()
	assert.Equal(t, 2, recvDrops)

	var frameErr InvalidFrameError
	require.True(t, errors.As(<-rx.ErrorChan, &frameErr))
}

func TestTransport_InterleavedSources(t *testing.T) {
	rx, _ := newTestTransport(t, 1, DefaultConfig())

	a, err := Segment(10, bytes.Repeat([]byte{0x0A}, 40))
	require.NoError(t, err)
	b, err := Segment(11, bytes.Repeat([]byte{0x0B}, 25))
	require.NoError(t, err)

	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(b) {
			rx.FrameReceived(b[i])
		}
		if i < len(a) {
			rx.FrameReceived(a[i])
		}
	}

	first, ok := rx.RecvMessage()
	require.True(t, ok)
	second, ok := rx.RecvMessage()
	require.True(t, ok)

	assert.Equal(t, NodeID(11), first.Source, "dispatch order follows completion order")
	assert.Equal(t, bytes.Repeat([]byte{0x0B}, 25), first.Data)
	assert.Equal(t, NodeID(10), second.Source)
	assert.Equal(t, bytes.Repeat([]byte{0x0A}, 40), second.Data)
	assert.Equal(t, uint64(0), rx.Stats().ReceivedDropped)
}

func TestTransport_PoolExhaustionIsAtomic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxPoolFrames = 4
	tx, txDrv := newTestTransport(t, 2, cfg)
	txDrv.setFull(true)

	require.NoError(t, tx.Send(sequence(20)))
	assert.Equal(t, 3, tx.TxPending())

	err := tx.Send(sequence(10))
	require.Error(t, err)
	var rejected *TransmitRejectedError
	require.True(t, errors.As(err, &rejected))
	var exhausted PoolExhaustedError
	assert.True(t, errors.As(err, &exhausted))

	assert.Equal(t, 3, tx.TxPending(), "a rejected send must not queue any frame")
	_, sendDrops := txDrv.counts()
	assert.Equal(t, 1, sendDrops)
	assert.Equal(t, uint64(1), tx.Stats().SentDropped)

	// a single frame still fits
	require.NoError(t, tx.Send([]byte{0xFF}))

	txDrv.setFull(false)
	tx.FrameSent()
	frames := drain(tx, txDrv)
	require.Len(t, frames, 4)
	assert.Equal(t, KindSmall, frames[3].Kind())

	require.NoError(t, tx.Send(sequence(30)), "pool is free again")
}

func TestTransport_SendRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxPoolFrames = 4
	tx, txDrv := newTestTransport(t, 2, cfg)

	err := tx.Send(sequence(31))
	var tooLarge MessageTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 31, tooLarge.Size)
	assert.Equal(t, 30, tooLarge.Max)

	err = tx.Send(nil)
	var invalid InvalidMessageError
	assert.True(t, errors.As(err, &invalid))

	_, sendDrops := txDrv.counts()
	assert.Equal(t, 2, sendDrops)
	assert.Equal(t, 0, tx.TxPending())
	assert.Empty(t, drain(tx, txDrv))
}

func TestTransport_QueuedMessagesKeepOrder(t *testing.T) {
	tx, txDrv := newTestTransport(t, 5, DefaultConfig())
	rx, _ := newTestTransport(t, 1, DefaultConfig())
	txDrv.setFull(true)

	msgs := [][]byte{sequence(3), sequence(17), sequence(9), sequence(40)}
	for _, m := range msgs {
		require.NoError(t, tx.Send(m))
	}

	txDrv.setFull(false)
	tx.FrameSent()
	for _, f := range drain(tx, txDrv) {
		rx.FrameReceived(f)
	}

	for _, want := range msgs {
		m, ok := rx.RecvMessage()
		require.True(t, ok)
		assert.Equal(t, want, m.Data)
	}
	assert.Equal(t, uint64(len(msgs)), tx.Stats().MessagesSent)
}

func TestTransport_RecvEmptyIsIdempotent(t *testing.T) {
	rx, _ := newTestTransport(t, 1, DefaultConfig())
	before := rx.Stats()

	buf := []byte{0xEE, 0xEE}
	for i := 0; i < 3; i++ {
		n, src := rx.Recv(buf)
		assert.Equal(t, 0, n)
		assert.Equal(t, NodeID(0), src)
	}
	assert.Equal(t, []byte{0xEE, 0xEE}, buf)
	assert.Equal(t, before, rx.Stats())
	assert.Equal(t, 0, rx.Pending())
}

func TestTransport_RecvTruncates(t *testing.T) {
	rx, _ := newTestTransport(t, 1, DefaultConfig())
	frames, err := Segment(6, sequence(20))
	require.NoError(t, err)
	for _, f := range frames {
		rx.FrameReceived(f)
	}

	buf := make([]byte, 5)
	n, src := rx.Recv(buf)
	assert.Equal(t, 5, n)
	assert.Equal(t, NodeID(6), src)
	assert.Equal(t, sequence(5), buf)
	assert.Equal(t, 0, rx.Pending(), "the rest of the message is discarded")
}

func TestTransport_DispatchQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchQueueLen = 1
	rx, rxDrv := newTestTransport(t, 1, cfg)

	rx.FrameReceived(MustFrame(MakeID(KindSmall, 2), []byte{1}))
	frames, err := Segment(3, sequence(12))
	require.NoError(t, err)
	for _, f := range frames {
		rx.FrameReceived(f)
	}

	assert.Equal(t, 1, rx.Pending())
	assert.Equal(t, 0, rx.PartialMessages(), "slot returns to idle after the drop")
	st := rx.Stats()
	assert.Equal(t, uint64(1), st.DispatchFull)
	assert.Equal(t, uint64(1), st.ReceivedDropped)
	recvDrops, _ := rxDrv.counts()
	assert.Equal(t, 1, recvDrops)

	var full DispatchQueueFullError
	require.True(t, errors.As(<-rx.ErrorChan, &full))
	assert.Equal(t, NodeID(3), full.Source)

	m, ok := rx.RecvMessage()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, m.Data)

	// room again
	for _, f := range frames {
		rx.FrameReceived(f)
	}
	m, ok = rx.RecvMessage()
	require.True(t, ok)
	assert.Equal(t, sequence(12), m.Data)
}

func TestTransport_OversizedDeclaration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 64
	rx, _ := newTestTransport(t, 1, cfg)

	big, err := Segment(8, sequence(100))
	require.NoError(t, err)
	for _, f := range big {
		rx.FrameReceived(f)
	}

	st := rx.Stats()
	assert.Equal(t, uint64(1), st.Oversized)
	assert.Equal(t, uint64(len(big)-1), st.Orphans)
	assert.Equal(t, 0, rx.PartialMessages())
	assert.Equal(t, 0, rx.Pending())

	var tooLarge MessageTooLargeError
	require.True(t, errors.As(<-rx.ErrorChan, &tooLarge))
	assert.Equal(t, 100, tooLarge.Size)
}

func TestTransport_ErrorChanNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorChanSize = 1
	rx, _ := newTestTransport(t, 1, cfg)

	for i := 0; i < 10; i++ {
		rx.FrameReceived(MustFrame(MakeID(KindData, 4), []byte{1}))
	}
	assert.Len(t, rx.ErrorChan, 1)
	assert.Equal(t, uint64(10), rx.Stats().Orphans)

	cfg.ErrorChanSize = 0
	quiet, _ := newTestTransport(t, 1, cfg)
	assert.Nil(t, quiet.ErrorChan)
	quiet.FrameReceived(MustFrame(MakeID(KindData, 4), []byte{1}))
	assert.Equal(t, uint64(1), quiet.Stats().Orphans)
}

func TestTransport_ReInit(t *testing.T) {
	tx, txDrv := newTestTransport(t, 3, DefaultConfig())
	txDrv.setFull(true)
	require.NoError(t, tx.Send(sequence(50)))

	partial, err := Segment(9, sequence(30))
	require.NoError(t, err)
	tx.FrameReceived(partial[0])
	tx.FrameReceived(MustFrame(MakeID(KindSmall, 9), []byte{1}))
	tx.FrameReceived(partial[0])
	tx.FrameReceived(MustFrame(MakeID(KindData, 8), []byte{1}))
	require.NotZero(t, tx.Stats().ReceivedDropped)

	d2 := &recordingDriver{}
	tx.Init(12, d2)

	assert.Equal(t, NodeID(12), tx.LocalID())
	assert.Equal(t, Stats{}, tx.Stats())
	assert.Equal(t, 0, tx.TxPending())
	assert.Equal(t, 0, tx.Pending())
	assert.Equal(t, 0, tx.PartialMessages())
	assert.Empty(t, tx.ErrorChan)

	// a stale acknowledgement from the old driver is harmless
	tx.FrameSent()
	assert.Empty(t, drain(tx, d2))

	require.NoError(t, tx.Send([]byte{7}))
	frames := drain(tx, d2)
	require.Len(t, frames, 1)
	assert.Equal(t, NodeID(12), frames[0].Source())
	assert.Empty(t, drain(tx, txDrv))
}

func TestTransport_NilDriver(t *testing.T) {
	tr, err := New(1, nil, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Send(sequence(40)))
	assert.Equal(t, FrameCount(40), tr.TxPending())
	assert.Error(t, tr.Send(nil))
}

func TestTransport_HookFuncs(t *testing.T) {
	var sent []Frame
	var room = true
	var recvDrops, sendDrops int
	hooks := HookFuncs{
		Send:           func(f Frame) { sent = append(sent, f) },
		Room:           func() bool { return room },
		ReceiveDropped: func() { recvDrops++ },
		SendDropped:    func() { sendDrops++ },
	}
	tr, err := New(1, hooks, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Send([]byte{1}))
	assert.Len(t, sent, 1)
	tr.FrameSent()

	room = false
	require.NoError(t, tr.Send([]byte{2}))
	assert.Len(t, sent, 1)
	room = true
	tr.FrameSent()
	assert.Len(t, sent, 2)

	assert.Error(t, tr.Send(nil))
	tr.FrameReceived(MustFrame(MakeID(KindData, 2), []byte{1}))
	assert.Equal(t, 1, sendDrops)
	assert.Equal(t, 1, recvDrops)
}

func TestTransport_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	a, b := newLinkedPair(t, cfg)
	rng := rand.New(rand.NewSource(1))

	buf := make([]byte, cfg.MaxMessageSize)
	for size := 1; size <= a.MaxSendSize(); size++ {
		data := make([]byte, size)
		rng.Read(data)

		require.NoError(t, a.Send(data))
		n, src := b.Recv(buf)
		require.Equal(t, size, n)
		require.Equal(t, NodeID(1), src)
		require.Equal(t, data, buf[:n], "size %d", size)

		require.NoError(t, b.Send(data))
		m, ok := a.RecvMessage()
		require.True(t, ok)
		require.Equal(t, NodeID(2), m.Source)
		require.Equal(t, data, m.Data)
	}

	st := b.Stats()
	assert.Equal(t, uint64(a.MaxSendSize()), st.MessagesReceived)
	assert.Equal(t, uint64(0), st.ReceivedDropped)
}

func BenchmarkTransport_RoundTrip(b *testing.B) {
	for _, size := range []int{8, 64, 512} {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			la, lb := &linkDriver{}, &linkDriver{}
			tx, _ := New(1, la, DefaultConfig())
			rx, _ := New(2, lb, DefaultConfig())
			la.self, la.peer = tx, rx
			lb.self, lb.peer = rx, tx

			data := sequence(size)
			buf := make([]byte, size)
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := tx.Send(data); err != nil {
					b.Fatal(err)
				}
				if n, _ := rx.Recv(buf); n != size {
					b.Fatalf("got %d bytes", n)
				}
			}
		})
	}
}
