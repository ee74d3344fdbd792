package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/asebacan/config"
	"github.com/LoveWonYoung/asebacan/driver"
	"github.com/LoveWonYoung/asebacan/logrecorder"
	"github.com/LoveWonYoung/asebacan/nodeclient"
	"github.com/LoveWonYoung/asebacan/tp"
)

var (
	// Global flags
	cfgFile   string
	nodeFlag  uint8
	backend   string
	iface     string
	bitrate   int
	logLevel  string
	logFrames bool

	// Shared state set during PersistentPreRun
	cfg      *config.Config
	logger   *slog.Logger
	recorder *logrecorder.Recorder

	// loopbackBus connects every loopback client opened by this process.
	loopbackBus = driver.NewLoopbackBus()
)

var rootCmd = &cobra.Command{
	Use:   "cantp",
	Short: "Send and receive segmented messages on a CAN bus",
	Long: `cantp talks to nodes on an 11-bit CAN bus using the segmented
message transport. Messages of up to the configured size are split into
frames on send and reassembled per source node on receive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("node") {
			cfg.Node = nodeFlag
		}
		if flags.Changed("backend") {
			cfg.Backend = backend
		}
		if flags.Changed("interface") {
			cfg.Interface = iface
		}
		if flags.Changed("bitrate") {
			cfg.Bitrate = bitrate
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-frames") {
			cfg.Log.Frames = logFrames
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return setupLogger(cmd.ErrOrStderr())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if recorder != nil {
			recorder.Close()
			recorder = nil
		}
	},
}

func setupLogger(stderr io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	writers := []io.Writer{stderr}
	if cfg.Log.Dir != "" {
		recorder, err = logrecorder.New(cfg.Log.Dir, "cantp_", logrecorder.DefaultRotation)
		if err != nil {
			return err
		}
		writers = append(writers, recorder)
	}
	logger = logrecorder.NewLogger(level, writers...)
	return nil
}

// openClient opens the configured backend as node id.
func openClient(id tp.NodeID) (*nodeclient.Client, error) {
	dev, err := driver.Open(cfg.DriverOptions(loopbackBus, logger))
	if err != nil {
		return nil, err
	}
	var opts []driver.AdapterOption
	if cfg.Log.Frames {
		opts = append(opts, driver.WithLogger(logger, slog.LevelInfo, driver.LogAll))
	}
	return nodeclient.New(dev, id, cfg.TransportConfig(logger), opts...)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.cantp/config.yaml)")
	pf.Uint8VarP(&nodeFlag, "node", "n", 1, "local node id")
	pf.StringVarP(&backend, "backend", "b", "", "CAN backend: loopback, socketcan, slcan, mcp2515, toomoss")
	pf.StringVarP(&iface, "interface", "i", "", "interface, serial port or SPI port")
	pf.IntVar(&bitrate, "bitrate", 0, "bus bitrate in bit/s")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&logFrames, "log-frames", false, "log every frame read and written")
}
