package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/LoveWonYoung/asebacan/driver"
	"github.com/LoveWonYoung/asebacan/tp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, tp.DefaultConfig().MaxMessageSize, cfg.TransportConfig(nil).MaxMessageSize)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
node: 7
backend: slcan
interface: /dev/ttyACM0
bitrate: 250000
transport:
  max_message_size: 256
  tx_pool_frames: 40
log:
  level: debug
  frames: true
firmware:
  page_size: 128
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), cfg.Node)
	assert.Equal(t, driver.BackendSLCAN, cfg.Backend)
	assert.Equal(t, "/dev/ttyACM0", cfg.Interface)
	assert.Equal(t, 250000, cfg.Bitrate)
	assert.True(t, cfg.Log.Frames)
	assert.Equal(t, 128, cfg.Firmware.PageSize)

	tc := cfg.TransportConfig(nil)
	assert.Equal(t, 256, tc.MaxMessageSize)
	assert.Equal(t, 40, tc.TxPoolFrames)
	// untouched keys keep their defaults
	assert.Equal(t, tp.DefaultConfig().DispatchQueueLen, tc.DispatchQueueLen)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "backend: socketcan\nnode: 3\n")
	t.Setenv("CANTP_NODE", "9")
	t.Setenv("CANTP_INTERFACE", "vcan0")
	t.Setenv("CANTP_TP_TX_POOL_FRAMES", "64")
	t.Setenv("CANTP_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, driver.BackendSocketCAN, cfg.Backend)
	assert.Equal(t, uint8(9), cfg.Node)
	assert.Equal(t, "vcan0", cfg.Interface)
	assert.Equal(t, 64, cfg.Transport.TxPoolFrames)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "node: [1, 2"},
		{"unknown backend", "backend: carrier-pigeon"},
		{"bad level", "log:\n  level: loud"},
		{"zero bitrate", "bitrate: 0"},
		{"zero page", "firmware:\n  page_size: 0"},
		{"tiny pool", "transport:\n  tx_pool_frames: 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestValidate_WrapsTransportError(t *testing.T) {
	cfg := Default()
	cfg.Transport.MaxMessageSize = 4
	err := cfg.Validate()
	var cfgErr tp.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDriverOptions(t *testing.T) {
	cfg := Default()
	bus := driver.NewLoopbackBus()
	opts := cfg.DriverOptions(bus, nil)
	assert.Equal(t, driver.BackendLoopback, opts.Backend)
	assert.Same(t, bus, opts.Bus)

	dev, err := driver.Open(opts)
	require.NoError(t, err)
	require.NoError(t, dev.Init())
	dev.Start()
	assert.Equal(t, 1, bus.Endpoints())
	dev.Stop()
}
