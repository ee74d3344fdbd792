package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LoveWonYoung/asebacan/tp"
	"go.bug.st/serial"
)

// serialPort is the part of serial.Port the SLCAN driver uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SLCAN is a CANDriver for USB-serial adapters speaking the Lawicel
// protocol (CANable, USBtin, CANUSB ...).
type SLCAN struct {
	device
	portName string
	baudRate int
	bitrate  int

	open func(name string, mode *serial.Mode) (serialPort, error)

	writeMu   sync.Mutex
	port      serialPort
	errors    uint64
	closeOnce sync.Once
}

// NewSLCAN prepares an adapter on portName. bitrate is the CAN bus bitrate.
func NewSLCAN(portName string, bitrate int, logger *slog.Logger) *SLCAN {
	s := &SLCAN{
		portName: portName,
		baudRate: 115200,
		bitrate:  bitrate,
		open: func(name string, mode *serial.Mode) (serialPort, error) {
			return serial.Open(name, mode)
		},
	}
	s.setup(logger)
	return s
}

// Init opens the serial port, sets the bitrate and opens the channel.
func (s *SLCAN) Init() error {
	setBitrate, err := slcanBitrateCommand(s.bitrate)
	if err != nil {
		return err
	}
	port, err := s.open(s.portName, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("slcan: open %s: %w", s.portName, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("slcan: read timeout: %w", err)
	}

	// Close first in case the channel was left open, then configure.
	for _, cmd := range [][]byte{{'C', slcanEnd}, setBitrate, {'O', slcanEnd}} {
		if _, err := port.Write(cmd); err != nil {
			port.Close()
			return fmt.Errorf("slcan: command %q: %w", cmd, err)
		}
	}
	s.port = port
	s.logger.Info("slcan opened", "port", s.portName, "bitrate", s.bitrate)
	return nil
}

func (s *SLCAN) Start() {
	if s.port == nil {
		s.logger.Error("slcan start before init", "port", s.portName)
		return
	}
	s.start(s.readLoop)
}

func (s *SLCAN) Stop() {
	s.stop()
	s.closeOnce.Do(func() {
		if s.port == nil {
			return
		}
		s.writeMu.Lock()
		_, _ = s.port.Write([]byte{'C', slcanEnd})
		s.writeMu.Unlock()
		if err := s.port.Close(); err != nil {
			s.logger.Warn("slcan close", "error", err)
		}
	})
}

func (s *SLCAN) Write(f tp.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !s.isRunning() {
		return ErrNotRunning
	}
	s.writeMu.Lock()
	_, err := s.port.Write(encodeSLCAN(f))
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	s.countWritten()
	return nil
}

// AdapterErrors returns how many error replies the adapter sent.
func (s *SLCAN) AdapterErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *SLCAN) readLoop(ctx context.Context) {
	var sc slcanScanner
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("slcan read failed", "port", s.portName, "error", err)
			}
			return
		}
		sc.feed(buf[:n], s.handleLine)
	}
}

func (s *SLCAN) handleLine(line []byte) {
	switch {
	case len(line) == 0, line[0] == 'z', line[0] == 'Z':
		// acknowledgement of a command or transmitted frame
		return
	case line[0] == slcanBell:
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		s.logger.Warn("slcan adapter reported an error", "port", s.portName)
		return
	}
	f, err := decodeSLCAN(line)
	if err != nil {
		if err != errSLCANSkip {
			s.logger.Debug("slcan line skipped", "error", err)
		}
		s.countSkipped()
		return
	}
	s.deliver(f)
}
