package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/chunk"
)

func newWriteCmd() *cobra.Command {
	var (
		asHex           bool
		chunkSize       int
		withoutResponse bool
	)
	cmd := &cobra.Command{
		Use:   "write <address> <service> <characteristic> <data>",
		Short: "Write a characteristic value",
		Long: fmt.Sprintf(`Connects, discovers services and writes data to a characteristic.
Payloads larger than the chunk size are sent as consecutive writes; the
command reports how many chunks were acknowledged.

Examples:
  # Text to a UART RX characteristic
  blemgr write %s 6e400001-b5a3-f393-e0a9-e50e24dcca9e 6e400002-b5a3-f393-e0a9-e50e24dcca9e "hello"

  # Hex bytes, without response, 180 bytes per chunk
  blemgr write %s 1815 2a56 --hex 0102FF --without-response --chunk 180`, exampleAddress, exampleAddress),
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTarget(args)
			if err != nil {
				return err
			}
			data := []byte(args[3])
			if asHex {
				if data, err = hex.DecodeString(strings.ReplaceAll(args[3], " ", "")); err != nil {
					return fmt.Errorf("invalid hex data: %w", err)
				}
			}
			if cmd.Flags().Changed("chunk") && chunkSize <= 0 {
				return chunk.ErrInvalidChunkSize
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			defer a.disconnect(t.id)
			if _, err := a.bridge.RetrieveServices(ctx, t.id, []string{t.service}); err != nil {
				return err
			}

			write := a.bridge.Write
			if withoutResponse {
				write = a.bridge.WriteWithoutResponse
			}
			result, err := write(ctx, t.id, t.service, t.characteristic, data, chunkSize)
			if err != nil {
				return err
			}
			return a.out.Result(result, fmt.Sprintf("Wrote %d bytes in %d/%d chunks", len(data), result.Sent, result.Total))
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "Data is a hex string (e.g. 'FF01')")
	cmd.Flags().IntVar(&chunkSize, "chunk", 0, "Maximum bytes per write (default from config)")
	cmd.Flags().BoolVar(&withoutResponse, "without-response", false, "Use write without response")
	return cmd
}
