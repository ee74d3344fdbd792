package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/LoveWonYoung/asebacan/driver"
	"github.com/LoveWonYoung/asebacan/tp"
)

// EnvPrefix is prepended to every environment override, e.g. CANTP_BACKEND.
const EnvPrefix = "CANTP_"

// Config holds the cantp configuration.
type Config struct {
	Node      uint8  `yaml:"node" env:"NODE"`
	Backend   string `yaml:"backend" env:"BACKEND"`
	Interface string `yaml:"interface" env:"INTERFACE"`
	Bitrate   int    `yaml:"bitrate" env:"BITRATE"`
	// Oscillator of an MCP2515 board, in Hz.
	Oscillator int `yaml:"oscillator" env:"OSCILLATOR"`

	Transport TransportSection `yaml:"transport" envPrefix:"TP_"`
	Log       LogSection       `yaml:"log" envPrefix:"LOG_"`
	Firmware  FirmwareSection  `yaml:"firmware" envPrefix:"FW_"`
}

type TransportSection struct {
	MaxMessageSize   int `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	TxPoolFrames     int `yaml:"tx_pool_frames" env:"TX_POOL_FRAMES"`
	DispatchQueueLen int `yaml:"dispatch_queue_len" env:"DISPATCH_QUEUE_LEN"`
	ReassemblySlots  int `yaml:"reassembly_slots" env:"REASSEMBLY_SLOTS"`
	ErrorChanSize    int `yaml:"error_chan_size" env:"ERROR_CHAN_SIZE"`
}

type LogSection struct {
	Level string `yaml:"level" env:"LEVEL"`
	// Dir enables rotated log files when set.
	Dir    string `yaml:"dir" env:"DIR"`
	Frames bool   `yaml:"frames" env:"FRAMES"`
}

type FirmwareSection struct {
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// Key is the hex-encoded AES key used to tag images.
	Key string `yaml:"key" env:"KEY"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	tc := tp.DefaultConfig()
	return &Config{
		Node:       1,
		Backend:    driver.BackendLoopback,
		Interface:  "can0",
		Bitrate:    500000,
		Oscillator: 8000000,
		Transport: TransportSection{
			MaxMessageSize:   tc.MaxMessageSize,
			TxPoolFrames:     tc.TxPoolFrames,
			DispatchQueueLen: tc.DispatchQueueLen,
			ReassemblySlots:  tc.ReassemblySlots,
			ErrorChanSize:    tc.ErrorChanSize,
		},
		Log:      LogSection{Level: "info"},
		Firmware: FirmwareSection{PageSize: 256},
	}
}

// DefaultPath returns ~/.cantp/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cantp", "config.yaml")
	}
	return filepath.Join(home, ".cantp", "config.yaml")
}

// Load reads the YAML file at path and applies CANTP_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the backend, log level and transport budget.
func (c *Config) Validate() error {
	switch c.Backend {
	case driver.BackendLoopback, driver.BackendSocketCAN, driver.BackendSLCAN, driver.BackendMCP2515, driver.BackendToomoss:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("config: bitrate must be positive, got %d", c.Bitrate)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Firmware.PageSize <= 0 {
		return fmt.Errorf("config: firmware page size must be positive, got %d", c.Firmware.PageSize)
	}
	tc := c.TransportConfig(nil)
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("config: transport: %w", err)
	}
	return nil
}

// Level parses Log.Level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.Log.Level, err)
	}
	return l, nil
}

func (c *Config) TransportConfig(logger *slog.Logger) tp.Config {
	return tp.Config{
		MaxMessageSize:   c.Transport.MaxMessageSize,
		TxPoolFrames:     c.Transport.TxPoolFrames,
		DispatchQueueLen: c.Transport.DispatchQueueLen,
		ReassemblySlots:  c.Transport.ReassemblySlots,
		ErrorChanSize:    c.Transport.ErrorChanSize,
		Logger:           logger,
	}
}

// DriverOptions maps the bus settings to driver.Open options. bus is only
// used by the loopback backend.
func (c *Config) DriverOptions(bus *driver.LoopbackBus, logger *slog.Logger) driver.Options {
	return driver.Options{
		Backend:      c.Backend,
		Interface:    c.Interface,
		Bitrate:      c.Bitrate,
		OscillatorHz: c.Oscillator,
		Bus:          bus,
		Logger:       logger,
	}
}
