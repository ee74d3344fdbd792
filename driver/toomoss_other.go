//go:build !windows

package driver

import (
	"log/slog"

	"github.com/LoveWonYoung/asebacan/tp"
)

// Toomoss is only available on Windows, where USB2XXX.dll exists.
type Toomoss struct {
	device
	bitrate int
}

func NewToomoss(bitrate int, logger *slog.Logger) *Toomoss {
	t := &Toomoss{bitrate: bitrate}
	t.setup(logger)
	return t
}

func (t *Toomoss) Init() error { return ErrUnsupported }
func (t *Toomoss) Start()      {}
func (t *Toomoss) Stop()       { t.stop() }

func (t *Toomoss) Write(tp.Frame) error { return ErrUnsupported }
