package driver

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendLoopback  = "loopback"
	BackendSocketCAN = "socketcan"
	BackendSLCAN     = "slcan"
	BackendMCP2515   = "mcp2515"
	BackendToomoss   = "toomoss"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Interface    string // can0, /dev/ttyACM0, SPI0.0
	Bitrate      int
	OscillatorHz int          // MCP2515 only
	Bus          *LoopbackBus // loopback only; a private bus when nil
	Logger       *slog.Logger
}

// Open creates an uninitialised driver for opts.Backend.
func Open(opts Options) (CANDriver, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendLoopback, "":
		bus := opts.Bus
		if bus == nil {
			bus = NewLoopbackBus()
		}
		bus.SetLogger(opts.Logger)
		return bus.Open(), nil
	case BackendSocketCAN:
		if opts.Interface == "" {
			return nil, fmt.Errorf("driver: socketcan needs an interface name")
		}
		return NewSocketCAN(opts.Interface, opts.Logger), nil
	case BackendSLCAN:
		if opts.Interface == "" {
			return nil, fmt.Errorf("driver: slcan needs a serial port")
		}
		if _, err := slcanBitrateCommand(opts.Bitrate); err != nil {
			return nil, err
		}
		return NewSLCAN(opts.Interface, opts.Bitrate, opts.Logger), nil
	case BackendMCP2515:
		if _, err := mcpBitTiming(opts.OscillatorHz, opts.Bitrate); err != nil {
			return nil, err
		}
		return NewMCP2515(opts.Interface, opts.OscillatorHz, opts.Bitrate, opts.Logger), nil
	case BackendToomoss:
		return NewToomoss(opts.Bitrate, opts.Logger), nil
	default:
		return nil, fmt.Errorf("driver: unknown backend %q", opts.Backend)
	}
}
