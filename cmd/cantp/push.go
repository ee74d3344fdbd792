package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/asebacan/firmware"
	"github.com/LoveWonYoung/asebacan/tp"
)

var (
	pushPageSize int
	pushKey      string
	pushFill     uint8
)

var pushCmd = &cobra.Command{
	Use:   "push <image.hex>",
	Short: "Send a firmware image page by page",
	Long: `Load an Intel HEX image, split it into pages and send one message per
page followed by a commit message carrying the page count and the AES-CMAC
tag of the image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize := cfg.Firmware.PageSize
		if cmd.Flags().Changed("page-size") {
			pageSize = pushPageSize
		}
		keyHex := cfg.Firmware.Key
		if cmd.Flags().Changed("key") {
			keyHex = pushKey
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}

		img, err := firmware.LoadFile(args[0])
		if err != nil {
			return err
		}
		pages, err := img.Pages(pageSize, pushFill)
		if err != nil {
			return err
		}
		tag, err := firmware.Sign(key, pages)
		if err != nil {
			return err
		}
		commit, err := firmware.EncodeCommit(len(pages), tag)
		if err != nil {
			return err
		}

		client, err := openClient(tp.NodeID(cfg.Node))
		if err != nil {
			return err
		}
		defer client.Close()
		if limit := client.Transport().MaxSendSize(); firmware.PageMessageSize(pageSize) > limit {
			return fmt.Errorf("page size %d does not fit a message (max %d bytes)", pageSize, limit-firmware.PageMessageSize(0))
		}

		ctx := cmd.Context()
		for i, p := range pages {
			if err := client.Send(ctx, firmware.EncodePage(p)); err != nil {
				return fmt.Errorf("page %d: %w", p.Index, err)
			}
			logger.Debug("page queued", "index", p.Index, "n", i+1, "of", len(pages))
		}
		if err := client.Send(ctx, commit); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := client.Flush(ctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d bytes in %d pages, tag %x\n", img.Size(), len(pages), tag)
		return nil
	},
}

func init() {
	f := pushCmd.Flags()
	f.IntVar(&pushPageSize, "page-size", 0, "page size in bytes (default from config)")
	f.StringVar(&pushKey, "key", "", "hex AES key for the image tag (default from config)")
	f.Uint8Var(&pushFill, "fill", 0xFF, "value of bytes the image does not define")
	rootCmd.AddCommand(pushCmd)
}
