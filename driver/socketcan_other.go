//go:build !linux

package driver

import (
	"log/slog"

	"github.com/LoveWonYoung/asebacan/tp"
)

// SocketCAN is only available on Linux.
type SocketCAN struct {
	device
	iface string
}

func NewSocketCAN(iface string, logger *slog.Logger) *SocketCAN {
	s := &SocketCAN{iface: iface}
	s.setup(logger)
	return s
}

func (s *SocketCAN) Init() error { return ErrUnsupported }
func (s *SocketCAN) Start()      {}
func (s *SocketCAN) Stop()       { s.stop() }

func (s *SocketCAN) Write(tp.Frame) error { return ErrUnsupported }
