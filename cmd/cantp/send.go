package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/asebacan/tp"
)

var sendCmd = &cobra.Command{
	Use:   "send <hex>",
	Short: "Send one message",
	Long:  "Send one message given as hex bytes, e.g. `cantp send \"01 02 03\"`.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(args[0]))
		if err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}

		client, err := openClient(tp.NodeID(cfg.Node))
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		if err := client.Send(ctx, data); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if err := client.Flush(ctx); err != nil {
			return err
		}
		st := client.Stats().Transport
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes in %d frames\n", len(data), st.FramesSent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
