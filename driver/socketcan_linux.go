//go:build linux

package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/LoveWonYoung/asebacan/tp"
	"golang.org/x/sys/unix"
)

// SocketCAN is a CANDriver on a Linux CAN network interface (can0, vcan0 ...).
type SocketCAN struct {
	device
	iface     string
	fd        int
	closeOnce sync.Once
}

func NewSocketCAN(iface string, logger *slog.Logger) *SocketCAN {
	s := &SocketCAN{iface: iface, fd: -1}
	s.setup(logger)
	return s
}

// Init opens a raw CAN socket bound to the interface.
func (s *SocketCAN) Init() error {
	netIf, err := net.InterfaceByName(s.iface)
	if err != nil {
		return fmt.Errorf("socketcan: interface %s: %w", s.iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socketcan: bind %s: %w", s.iface, err)
	}
	tv := unix.NsecToTimeval(ReadTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socketcan: read timeout: %w", err)
	}
	s.fd = fd
	s.logger.Info("socketcan opened", "iface", s.iface)
	return nil
}

func (s *SocketCAN) Start() {
	if s.fd < 0 {
		s.logger.Error("socketcan start before init", "iface", s.iface)
		return
	}
	s.start(s.readLoop)
}

func (s *SocketCAN) Stop() {
	s.stop()
	s.closeOnce.Do(func() {
		if s.fd >= 0 {
			unix.Close(s.fd)
		}
	})
}

func (s *SocketCAN) Write(f tp.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !s.isRunning() {
		return ErrNotRunning
	}
	buf := encodeCANFrame(f)
	n, err := unix.Write(s.fd, buf[:])
	if err != nil {
		return fmt.Errorf("socketcan: write: %w", err)
	}
	if n != canFrameSize {
		return errors.New("socketcan: short write")
	}
	s.countWritten()
	return nil
}

func (s *SocketCAN) readLoop(ctx context.Context) {
	var buf [canFrameSize]byte
	for ctx.Err() == nil {
		n, err := unix.Read(s.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.logger.Error("socketcan read failed", "iface", s.iface, "error", err)
			return
		}
		f, ok, err := decodeCANFrame(buf[:n])
		if !ok {
			if err != nil {
				s.logger.Debug("socketcan frame skipped", "error", err)
			}
			s.countSkipped()
			continue
		}
		s.deliver(f)
	}
}
