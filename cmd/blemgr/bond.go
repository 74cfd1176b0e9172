package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/device"
)

func newBondCmd() *cobra.Command {
	var (
		pin    string
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "bond <address>",
		Short: "Bond with a peripheral or remove a bond",
		Long: fmt.Sprintf(`Starts bonding with a peripheral and waits until it is bonded or refused.
With --pin the PIN is submitted when the platform asks for one.

Examples:
  blemgr bond %s --pin 123456

  # Forget the bond
  blemgr bond %s --remove`, exampleAddress, exampleAddress),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := device.ValidateAddress(args[0]); err != nil {
				return err
			}
			id := device.NormalizeID(args[0])

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if remove {
				if err := a.bridge.RemoveBond(id); err != nil {
					return err
				}
				return a.out.Result(map[string]any{"peripheral": id, "bonded": false}, "Bond removed")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			ctx, stop := context.WithTimeout(ctx, a.cfg.BondTimeout)
			defer stop()

			p := startProgress(os.Stderr, "Bonding", 0)
			err = a.bridge.CreateBond(ctx, id, pin)
			p.Stop()
			if err != nil {
				return err
			}
			a.drain()
			return a.out.Result(map[string]any{"peripheral": id, "bonded": true}, "Bonded")
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "PIN submitted when the peripheral requests one")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the bond instead of creating one")
	return cmd
}
