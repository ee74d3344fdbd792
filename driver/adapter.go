package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/LoveWonYoung/asebacan/tp"
)

// FrameSink receives the driver's interrupt-style notifications.
// *tp.Transport implements it.
type FrameSink interface {
	FrameReceived(f tp.Frame)
	FrameSent()
}

// LogOption is a bitmask for selecting which frame directions to log.
type LogOption uint8

const (
	LogRead LogOption = 1 << iota
	LogWrite

	LogNone LogOption = 0
	LogAll            = LogRead | LogWrite
)

// AdapterStats counts what the adapter did on behalf of the transport.
type AdapterStats struct {
	FramesWritten uint64
	FramesRead    uint64
	WriteErrors   uint64
	ReceiveDrops  uint64
	SendDrops     uint64
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger logs the selected frame directions at level. Driver errors are
// always logged at error level.
func WithLogger(logger *slog.Logger, level slog.Level, opts LogOption) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
		a.level = level
		a.opts = opts
	}
}

// Adapter connects a CANDriver to a transport. It implements tp.Driver: the
// controller is modelled as a single transmit mailbox serviced by a goroutine,
// and received frames are pushed into the sink from a second goroutine.
type Adapter struct {
	dev     CANDriver
	mailbox chan tp.Frame
	logger  *slog.Logger
	level   slog.Level
	opts    LogOption

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sink    FrameSink
	started bool
	closed  bool
	stats   AdapterStats
}

// NewAdapter initialises and starts dev.
func NewAdapter(dev CANDriver, opts ...AdapterOption) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize CAN device: %w", err)
	}
	dev.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		dev:     dev,
		mailbox: make(chan tp.Frame, 1),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Debug("adapter created and device started")
	return a, nil
}

// Start begins moving frames between the device and sink. It must be called
// once, after the transport using this adapter exists.
func (a *Adapter) Start(sink FrameSink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrNotRunning
	}
	if a.started {
		return errors.New("adapter already started")
	}
	a.started = true
	a.sink = sink

	a.wg.Add(2)
	go a.rxLoop(sink)
	go a.txLoop(sink)
	return nil
}

// Close stops the goroutines and the device.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.logger.Debug("closing adapter")
	a.cancel()
	a.wg.Wait()
	a.dev.Stop()
}

// SendFrame puts f in the transmit mailbox. The transport only calls it
// after RoomAvailable reported true, so the mailbox is normally empty. If it
// is not, f is lost like a frame the bus rejected and the sink is still told
// it was sent, so the transport moves on to its next frame.
func (a *Adapter) SendFrame(f tp.Frame) {
	select {
	case a.mailbox <- f:
	default:
		a.mu.Lock()
		a.stats.WriteErrors++
		sink := a.sink
		a.mu.Unlock()
		a.logger.Error("transmit mailbox busy, frame lost", "frame", f.String())
		if sink != nil {
			sink.FrameSent()
		}
	}
}

func (a *Adapter) RoomAvailable() bool {
	return len(a.mailbox) < cap(a.mailbox) && a.ctx.Err() == nil
}

func (a *Adapter) OnReceiveDrop() {
	a.mu.Lock()
	a.stats.ReceiveDrops++
	a.mu.Unlock()
}

func (a *Adapter) OnSendDrop() {
	a.mu.Lock()
	a.stats.SendDrops++
	a.mu.Unlock()
}

func (a *Adapter) Stats() AdapterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Adapter) txLoop(sink FrameSink) {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case f := <-a.mailbox:
			if a.opts&LogWrite != 0 {
				a.logFrame("can send", f)
			}
			err := a.dev.Write(f)
			a.mu.Lock()
			if err != nil {
				a.stats.WriteErrors++
			} else {
				a.stats.FramesWritten++
			}
			a.mu.Unlock()
			if err != nil {
				// Not retried: the frame is lost as it would be on a bus error.
				a.logger.Error("can send error", "id", f.ID, "error", err)
			}
			sink.FrameSent()
		}
	}
}

func (a *Adapter) rxLoop(sink FrameSink) {
	defer a.wg.Done()
	rx := a.dev.RxChan()
	devDone := a.dev.Context().Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-devDone:
			return
		case f, ok := <-rx:
			if !ok {
				return
			}
			if a.opts&LogRead != 0 {
				a.logFrame("can receive", f)
			}
			a.mu.Lock()
			a.stats.FramesRead++
			a.mu.Unlock()
			sink.FrameReceived(f)
		}
	}
}

func (a *Adapter) logFrame(msg string, f tp.Frame) {
	a.logger.Log(context.Background(), a.level, msg,
		"id", f.ID,
		"kind", f.Kind().String(),
		"source", int(f.Source()),
		"len", int(f.Len),
		"data", f.Payload(),
	)
}
