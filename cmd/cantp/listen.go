package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/asebacan/nodeclient"
	"github.com/LoveWonYoung/asebacan/tp"
)

var listenCount int

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print received messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client, err := openClient(tp.NodeID(cfg.Node))
		if err != nil {
			return err
		}
		defer client.Close()
		client.SetOptions(nodeclient.RequestOptions{})

		out := cmd.OutOrStdout()
		for n := 0; listenCount == 0 || n < listenCount; n++ {
			m, err := client.Receive(ctx)
			if errors.Is(err, context.Canceled) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%3d [%d] % X\n", m.Source, len(m.Data), m.Data)
		}

		st := client.Stats().Transport
		logger.Info("listen finished",
			"messages", st.MessagesReceived,
			"dropped", st.ReceivedDropped,
			"orphans", st.Orphans,
			"interrupted", st.Interrupted)
		return nil
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenCount, "count", "c", 0, "stop after this many messages (0 = until interrupted)")
	rootCmd.AddCommand(listenCmd)
}
