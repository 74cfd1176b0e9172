package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/device"
)

func newReadCmd() *cobra.Command {
	var (
		descriptor string
		raw        bool
	)
	cmd := &cobra.Command{
		Use:   "read <address> <service> <characteristic>",
		Short: "Read a characteristic or descriptor value",
		Long: fmt.Sprintf(`Connects, discovers services and reads one characteristic or descriptor.
The value is printed as hex unless --raw is given.

Examples:
  # Battery level
  blemgr read %s 180f 2a19

  # Client Characteristic Configuration of the battery level
  blemgr read %s 180f 2a19 --desc 2902`, exampleAddress, exampleAddress),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTarget(args)
			if err != nil {
				return err
			}
			if descriptor != "" {
				if _, err := device.ValidateUUID(descriptor); err != nil {
					return fmt.Errorf("invalid descriptor UUID: %w", err)
				}
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

			var value []byte
			if descriptor != "" {
				value, err = a.bridge.ReadDescriptor(ctx, t.id, t.service, t.characteristic, descriptor)
			} else {
				value, err = a.bridge.Read(ctx, t.id, t.service, t.characteristic)
			}
			if err != nil {
				return err
			}

			if raw {
				_, err := cmd.OutOrStdout().Write(value)
				return err
			}
			text := strings.ToUpper(hex.EncodeToString(value))
			return a.out.Result(map[string]any{"peripheral": t.id, "value": text}, text)
		},
	}
	cmd.Flags().StringVar(&descriptor, "desc", "", "Descriptor UUID (reads the descriptor instead of the characteristic)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the raw bytes to stdout")
	return cmd
}
