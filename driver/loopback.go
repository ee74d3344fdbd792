package driver

import (
	"log/slog"
	"sync"

	"github.com/LoveWonYoung/asebacan/tp"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations.
// Every frame written by one endpoint is delivered to all other running
// endpoints; the writer does not see its own frames.
type LoopbackBus struct {
	mu        sync.RWMutex
	endpoints map[*LoopbackDevice]struct{}
	logger    *slog.Logger
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*LoopbackDevice]struct{})}
}

// SetLogger sets the logger given to endpoints opened afterwards.
func (b *LoopbackBus) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Open creates a new endpoint attached to the bus.
func (b *LoopbackBus) Open() *LoopbackDevice {
	b.mu.RLock()
	logger := b.logger
	b.mu.RUnlock()
	l := &LoopbackDevice{bus: b}
	l.setup(logger)
	return l
}

// Endpoints returns the number of started endpoints.
func (b *LoopbackBus) Endpoints() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

// LoopbackDevice is one node on a LoopbackBus. It implements CANDriver.
type LoopbackDevice struct {
	device
	bus *LoopbackBus
}

func (l *LoopbackDevice) Init() error {
	return nil
}

func (l *LoopbackDevice) Start() {
	if !l.start(nil) {
		return
	}
	l.bus.mu.Lock()
	l.bus.endpoints[l] = struct{}{}
	l.bus.mu.Unlock()
	l.logger.Debug("loopback endpoint started")
}

func (l *LoopbackDevice) Stop() {
	l.bus.mu.Lock()
	delete(l.bus.endpoints, l)
	l.bus.mu.Unlock()
	l.stop()
}

// Write broadcasts f to the other endpoints.
func (l *LoopbackDevice) Write(f tp.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !l.isRunning() {
		return ErrNotRunning
	}

	// Snapshot endpoints under the bus lock to avoid holding it while delivering.
	l.bus.mu.RLock()
	targets := make([]*LoopbackDevice, 0, len(l.bus.endpoints))
	for ep := range l.bus.endpoints {
		if ep != l {
			targets = append(targets, ep)
		}
	}
	l.bus.mu.RUnlock()

	for _, t := range targets {
		t.deliver(f)
	}
	l.countWritten()
	return nil
}
