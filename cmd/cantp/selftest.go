package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/asebacan/driver"
	"github.com/LoveWonYoung/asebacan/nodeclient"
)

var selftestMax int

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Round-trip messages between two loopback nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		bus := driver.NewLoopbackBus()
		bus.SetLogger(logger)
		tc := cfg.TransportConfig(logger)

		limit := selftestMax
		if limit <= 0 || limit > tc.MaxSendSize() {
			limit = tc.MaxSendSize()
		}

		a, err := nodeclient.New(bus.Open(), 1, tc)
		if err != nil {
			return err
		}
		defer a.Close()
		b, err := nodeclient.New(bus.Open(), 2, tc)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		start := time.Now()
		for size := 1; size <= limit; size++ {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i*7 + size)
			}
			if err := a.Send(ctx, data); err != nil {
				return fmt.Errorf("size %d: %w", size, err)
			}
			m, err := b.ReceiveFrom(ctx, 1)
			if err != nil {
				return fmt.Errorf("size %d: %w", size, err)
			}
			if !bytes.Equal(m.Data, data) {
				return fmt.Errorf("size %d: payload mismatch", size)
			}
		}

		st := a.Stats().Transport
		fmt.Fprintf(cmd.OutOrStdout(), "selftest ok: %d messages, %d frames in %v\n",
			st.MessagesSent, st.FramesSent, time.Since(start).Round(time.Millisecond))
		if r := b.Stats().Transport; r.ReceivedDropped != 0 {
			return fmt.Errorf("receiver dropped %d messages", r.ReceivedDropped)
		}
		return nil
	},
}

func init() {
	selftestCmd.Flags().IntVar(&selftestMax, "max", 0, "largest message size to try (default the transport maximum)")
	rootCmd.AddCommand(selftestCmd)
}
