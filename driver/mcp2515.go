package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LoveWonYoung/asebacan/tp"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	mcpClock      = 10 * physic.MegaHertz
	mcpTxTimeout  = 10 * time.Millisecond
	mcpModeSwitch = 10 * time.Millisecond
)

// spiConn is the part of spi.Conn the MCP2515 driver uses.
type spiConn interface {
	Tx(w, r []byte) error
}

// MCP2515 drives a Microchip MCP2515 stand-alone CAN controller over SPI.
// Received frames are polled with READ STATUS; frames are sent through TXB0.
type MCP2515 struct {
	device
	busName    string
	oscillator int
	bitrate    int
	poll       time.Duration

	connect func(busName string) (spiConn, func() error, error)

	spiMu     sync.Mutex
	conn      spiConn
	closePort func() error
	closeOnce sync.Once
}

// NewMCP2515 prepares a controller on SPI port busName ("" picks the first
// one). oscillatorHz is the crystal on the module, 8 or 16 MHz.
func NewMCP2515(busName string, oscillatorHz, bitrate int, logger *slog.Logger) *MCP2515 {
	m := &MCP2515{
		busName:    busName,
		oscillator: oscillatorHz,
		bitrate:    bitrate,
		poll:       PollingInterval,
		connect:    openSPI,
	}
	m.setup(logger)
	return m
}

func openSPI(busName string) (spiConn, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port, err := spireg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SPI port %s: %w", busName, err)
	}
	conn, err := port.Connect(mcpClock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("failed to connect SPI port %s: %w", busName, err)
	}
	return conn, port.Close, nil
}

// Init resets the controller, programs the bit timing and enters normal mode.
func (m *MCP2515) Init() error {
	timing, err := mcpBitTiming(m.oscillator, m.bitrate)
	if err != nil {
		return err
	}
	conn, closePort, err := m.connect(m.busName)
	if err != nil {
		return err
	}
	m.conn = conn
	m.closePort = closePort

	if err := m.configure(timing); err != nil {
		m.closePort()
		m.conn = nil
		return err
	}
	m.logger.Info("mcp2515 ready", "port", m.busName, "bitrate", m.bitrate, "oscillator", m.oscillator)
	return nil
}

func (m *MCP2515) configure(timing mcpTiming) error {
	m.spiMu.Lock()
	defer m.spiMu.Unlock()

	if err := m.tx([]byte{mcpReset}, nil); err != nil {
		return fmt.Errorf("mcp2515: reset: %w", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := m.waitMode(mcpModeConfig); err != nil {
		return err
	}

	// CNF3, CNF2, CNF1 are consecutive registers.
	if err := m.writeRegs(mcpCNF3, timing.cnf3, timing.cnf2, timing.cnf1); err != nil {
		return err
	}
	if err := m.writeRegs(mcpCANINTE, 0x00, 0x00); err != nil {
		return err
	}
	if err := m.writeRegs(mcpRXB0CTRL, mcpRxAnyFrame|mcpRxRollover); err != nil {
		return err
	}
	if err := m.writeRegs(mcpRXB1CTRL, mcpRxAnyFrame); err != nil {
		return err
	}
	if err := m.tx([]byte{mcpBitModify, mcpCANCTRL, mcpModeMask, mcpModeNormal}, nil); err != nil {
		return err
	}
	return m.waitMode(mcpModeNormal)
}

func (m *MCP2515) waitMode(mode byte) error {
	deadline := time.Now().Add(mcpModeSwitch)
	for {
		stat, err := m.readReg(mcpCANSTAT)
		if err != nil {
			return err
		}
		if stat&mcpModeMask == mode {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mcp2515: mode 0x%02X not reached, CANSTAT=0x%02X", mode, stat)
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *MCP2515) Start() {
	if m.conn == nil {
		m.logger.Error("mcp2515 start before init", "port", m.busName)
		return
	}
	m.start(m.pollLoop)
}

func (m *MCP2515) Stop() {
	m.stop()
	m.closeOnce.Do(func() {
		if m.conn == nil {
			return
		}
		m.spiMu.Lock()
		_ = m.tx([]byte{mcpReset}, nil)
		m.spiMu.Unlock()
		if m.closePort != nil {
			if err := m.closePort(); err != nil {
				m.logger.Warn("mcp2515 close", "error", err)
			}
		}
	})
}

// Write loads TXB0 and requests transmission once the previous frame left.
func (m *MCP2515) Write(f tp.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !m.isRunning() {
		return ErrNotRunning
	}

	m.spiMu.Lock()
	defer m.spiMu.Unlock()

	deadline := time.Now().Add(mcpTxTimeout)
	for {
		status, err := m.readStatus()
		if err != nil {
			return err
		}
		if status&mcpStatusTXREQ0 == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mcp2515: transmit buffer busy")
		}
		m.spiMu.Unlock()
		time.Sleep(100 * time.Microsecond)
		m.spiMu.Lock()
	}

	regs := encodeMCPFrame(f)
	w := make([]byte, 0, 1+mcpFrameSize)
	w = append(w, mcpLoadTx0)
	w = append(w, regs[:5+f.Len]...)
	if err := m.tx(w, nil); err != nil {
		return fmt.Errorf("mcp2515: load tx buffer: %w", err)
	}
	if err := m.tx([]byte{mcpRTS0}, nil); err != nil {
		return fmt.Errorf("mcp2515: request to send: %w", err)
	}
	m.countWritten()
	return nil
}

func (m *MCP2515) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.drainRx(); err != nil {
			m.logger.Error("mcp2515 poll failed", "error", err)
		}
	}
}

// drainRx reads every full receive buffer.
func (m *MCP2515) drainRx() error {
	m.spiMu.Lock()
	defer m.spiMu.Unlock()

	status, err := m.readStatus()
	if err != nil {
		return err
	}
	for _, rx := range []struct {
		flag byte
		cmd  byte
	}{{mcpStatusRX0IF, mcpReadRx0}, {mcpStatusRX1IF, mcpReadRx1}} {
		if status&rx.flag == 0 {
			continue
		}
		w := make([]byte, 1+mcpFrameSize)
		r := make([]byte, 1+mcpFrameSize)
		w[0] = rx.cmd
		if err := m.tx(w, r); err != nil {
			return err
		}
		f, ok, err := decodeMCPFrame(r[1:])
		if !ok {
			if err != nil {
				m.logger.Debug("mcp2515 frame skipped", "error", err)
			}
			m.countSkipped()
			continue
		}
		m.deliver(f)
	}
	return nil
}

func (m *MCP2515) tx(w, r []byte) error {
	return m.conn.Tx(w, r)
}

func (m *MCP2515) readStatus() (byte, error) {
	r := make([]byte, 2)
	if err := m.tx([]byte{mcpReadStatus, 0x00}, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (m *MCP2515) readReg(addr byte) (byte, error) {
	r := make([]byte, 3)
	if err := m.tx([]byte{mcpRead, addr, 0x00}, r); err != nil {
		return 0, err
	}
	return r[2], nil
}

func (m *MCP2515) writeRegs(addr byte, values ...byte) error {
	w := append([]byte{mcpWrite, addr}, values...)
	if err := m.tx(w, nil); err != nil {
		return fmt.Errorf("mcp2515: write 0x%02X: %w", addr, err)
	}
	return nil
}
