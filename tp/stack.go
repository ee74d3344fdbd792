package tp

import (
	"log/slog"
	"sync"
)

// Driver is the hardware side of the transport. The transport calls it;
// the driver calls back into FrameSent and FrameReceived.
//
// RoomAvailable is queried while the transport holds its lock and must not
// call back into the transport. SendFrame and the drop notifications are
// invoked without the lock held.
type Driver interface {
	SendFrame(f Frame)
	RoomAvailable() bool
	OnReceiveDrop()
	OnSendDrop()
}

// HookFuncs adapts plain functions to Driver. Nil hooks are skipped; a nil
// Room means the driver always has room.
type HookFuncs struct {
	Send           func(Frame)
	Room           func() bool
	ReceiveDropped func()
	SendDropped    func()
}

func (h HookFuncs) SendFrame(f Frame) {
	if h.Send != nil {
		h.Send(f)
	}
}

func (h HookFuncs) RoomAvailable() bool {
	if h.Room == nil {
		return true
	}
	return h.Room()
}

func (h HookFuncs) OnReceiveDrop() {
	if h.ReceiveDropped != nil {
		h.ReceiveDropped()
	}
}

func (h HookFuncs) OnSendDrop() {
	if h.SendDropped != nil {
		h.SendDropped()
	}
}

// Stats is a snapshot of the transport counters. They reset only on Init.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	MessagesSent     uint64
	MessagesReceived uint64

	SentDropped     uint64
	ReceivedDropped uint64

	Orphans        uint64
	Interrupted    uint64
	Oversized      uint64
	Invalid        uint64
	DispatchFull   uint64
	SlotsExhausted uint64
}

// Transport 是分段传输协议栈的核心结构。所有共享状态都在 mu 保护下修改，
// 临界区内不阻塞、不分配内存。
type Transport struct {
	mu sync.Mutex

	localID NodeID
	driver  Driver
	config  Config
	logger  *slog.Logger

	pool     *FramePool
	txQueue  *txQueue
	txState  State
	inFlight txEntry

	rx       *reassembler
	dispatch *dispatchQueue
	stats    Stats

	// ErrorChan receives receive-side drop reasons. Sends never block; when
	// the channel is full the error is discarded.
	ErrorChan chan error
}

// New validates cfg and allocates every buffer the transport will use.
func New(localID NodeID, d Driver, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Transport{
		config:   cfg,
		logger:   cfg.logger(),
		pool:     NewFramePool(cfg.TxPoolFrames),
		txQueue:  newTxQueue(cfg.TxPoolFrames),
		rx:       newReassembler(cfg.ReassemblySlots, cfg.MaxMessageSize),
		dispatch: newDispatchQueue(cfg.DispatchQueueLen, cfg.MaxMessageSize),
	}
	if cfg.ErrorChanSize > 0 {
		t.ErrorChan = make(chan error, cfg.ErrorChanSize)
	}
	t.Init(localID, d)
	return t, nil
}

// Init sets the local identity and driver and discards all queued, in-flight,
// partial and undelivered messages. Counters are reset.
//
// The old driver must be quiescent: a FrameSent for a frame it was handed
// before Init is indistinguishable from one for the new session and would
// complete whatever frame is in flight then.
func (t *Transport) Init(localID NodeID, d Driver) {
	if d == nil {
		d = HookFuncs{}
	}

	t.mu.Lock()
	t.localID = localID
	t.driver = d
	t.pool.Reset()
	t.txQueue.reset()
	t.txState = StateIdle
	t.inFlight = txEntry{}
	t.rx.reset()
	t.dispatch.reset()
	t.stats = Stats{}
	t.mu.Unlock()

	t.drainErrors()
	t.logger.Debug("transport initialised", "node", localID,
		"max_send", t.config.MaxSendSize(), "pool", t.config.TxPoolFrames)
}

// Send segments data into the frame pool and starts transmission if the
// driver has room. The message is queued whole or not at all; every
// rejection is a *TransmitRejectedError and fires the send-drop hook.
// data may be reused as soon as Send returns.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	cause := t.enqueueLocked(data)
	var (
		next Frame
		ok   bool
	)
	if cause != nil {
		t.stats.SentDropped++
	} else {
		next, ok = t.nextFrameLocked()
	}
	d := t.driver
	t.mu.Unlock()

	if cause != nil {
		d.OnSendDrop()
		t.logger.Warn("send rejected", "size", len(data), "error", cause)
		return &TransmitRejectedError{Cause: cause}
	}
	if ok {
		d.SendFrame(next)
	}
	return nil
}

func (t *Transport) enqueueLocked(data []byte) error {
	n := len(data)
	if n == 0 {
		return InvalidMessageError{TransportError: NewTransportError("empty message")}
	}
	if max := t.config.MaxSendSize(); n > max {
		return MessageTooLargeError{Size: n, Max: max}
	}
	if need := FrameCount(n); t.pool.Available() < need {
		return PoolExhaustedError{TransportError: NewTransportError(
			"frame pool exhausted: message needs more frames than are free")}
	}

	segment(t.localID, data, func(f Frame, last bool) {
		// Availability was checked above, Acquire cannot fail here.
		slot, _ := t.pool.Acquire()
		*t.pool.Frame(slot) = f
		t.txQueue.push(txEntry{slot: slot, last: last})
	})
	return nil
}

// nextFrameLocked moves the head of the queue in flight if nothing else is
// and the driver has room.
func (t *Transport) nextFrameLocked() (Frame, bool) {
	if t.txState != StateIdle || t.txQueue.len() == 0 {
		return Frame{}, false
	}
	if !t.driver.RoomAvailable() {
		return Frame{}, false
	}
	e, _ := t.txQueue.pop()
	t.inFlight = e
	t.txState = StateTransmit
	return *t.pool.Frame(e.slot), true
}

// FrameSent is called by the driver once the in-flight frame left the
// controller. With nothing in flight it tells the transport the driver has
// room again.
func (t *Transport) FrameSent() {
	t.mu.Lock()
	if t.txState == StateTransmit {
		t.pool.Release(t.inFlight.slot)
		t.stats.FramesSent++
		if t.inFlight.last {
			t.stats.MessagesSent++
		}
		t.inFlight = txEntry{}
		t.txState = StateIdle
	}
	next, ok := t.nextFrameLocked()
	d := t.driver
	t.mu.Unlock()

	if ok {
		d.SendFrame(next)
	}
}

// FrameReceived feeds one inbound frame to the reassembler. It never blocks;
// problems are reported through the counters, the receive-drop hook and
// ErrorChan.
func (t *Transport) FrameReceived(f Frame) {
	t.mu.Lock()
	t.stats.FramesReceived++
	msg, source, interrupted, reason := t.rx.feed(f)
	if reason == dropNone && msg != nil {
		if t.dispatch.push(source, msg) {
			t.stats.MessagesReceived++
		} else {
			reason = dropDispatchFull
		}
	}
	if interrupted {
		t.countDropLocked(dropInterrupted)
	}
	if reason != dropNone {
		t.countDropLocked(reason)
	}
	d := t.driver
	t.mu.Unlock()

	if interrupted {
		t.reportDrop(d, dropInterrupted, f)
	}
	if reason != dropNone {
		t.reportDrop(d, reason, f)
	}
}

func (t *Transport) countDropLocked(reason dropReason) {
	t.stats.ReceivedDropped++
	switch reason {
	case dropOrphan:
		t.stats.Orphans++
	case dropInterrupted:
		t.stats.Interrupted++
	case dropOversized:
		t.stats.Oversized++
	case dropDispatchFull:
		t.stats.DispatchFull++
	case dropSlotsExhausted:
		t.stats.SlotsExhausted++
	default:
		t.stats.Invalid++
	}
}

func (t *Transport) reportDrop(d Driver, reason dropReason, f Frame) {
	d.OnReceiveDrop()
	err := dropError(reason, f, t.config.MaxMessageSize)
	t.logger.Debug("frame dropped", "reason", reason.String(), "frame", f.String(), "error", err)
	t.fireError(err)
}

func (t *Transport) drainErrors() {
	if t.ErrorChan == nil {
		return
	}
	for {
		select {
		case <-t.ErrorChan:
		default:
			return
		}
	}
}

func (t *Transport) fireError(err error) {
	if t.ErrorChan == nil {
		return
	}
	select {
	case t.ErrorChan <- err:
	default:
	}
}

// Recv copies the oldest complete message into buf and frees its entry.
// Bytes beyond len(buf) are discarded. With nothing queued it returns 0 and
// changes nothing.
func (t *Transport) Recv(buf []byte) (int, NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.dispatch.peek()
	if !ok {
		return 0, 0
	}
	n := copy(buf, e.buf[:e.size])
	source := e.source
	t.dispatch.drop()
	return n, source
}

// RecvMessage is Recv into a freshly allocated buffer of the exact size.
func (t *Transport) RecvMessage() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.dispatch.peek()
	if !ok {
		return Message{}, false
	}
	m := Message{Source: e.source, Data: make([]byte, e.size)}
	copy(m.Data, e.buf[:e.size])
	t.dispatch.drop()
	return m, true
}

// Pending returns the number of complete messages waiting for Recv.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dispatch.len()
}

// TxPending returns the number of frames queued or in flight.
func (t *Transport) TxPending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.txQueue.len()
	if t.txState == StateTransmit {
		n++
	}
	return n
}

// PartialMessages returns how many reassembly slots are accumulating.
func (t *Transport) PartialMessages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rx.active()
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Transport) LocalID() NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localID
}

// MaxSendSize is the longest message Send accepts.
func (t *Transport) MaxSendSize() int {
	return t.config.MaxSendSize()
}

func (t *Transport) Config() Config {
	return t.config
}
