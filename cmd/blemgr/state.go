package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/events"
)

func newStateCmd() *cobra.Command {
	var (
		enable    bool
		bonded    bool
		connected bool
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the Bluetooth adapter state",
		Long: `Prints the adapter power state. --bonded and --connected also list the
peripherals the platform reports as bonded or connected.

Examples:
  blemgr state
  blemgr state --enable
  blemgr state --bonded --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if enable {
				if err := a.bridge.EnableBluetooth(); err != nil {
					return err
				}
			}
			state := a.bridge.CheckState()
			a.drain()

			if bonded {
				list, err := a.bridge.GetBondedPeripherals()
				if err != nil {
					return err
				}
				if err := printPeripherals(a, "Bonded", list); err != nil {
					return err
				}
			}
			if connected {
				list, err := a.bridge.GetConnectedPeripherals()
				if err != nil {
					return err
				}
				if err := printPeripherals(a, "Connected", list); err != nil {
					return err
				}
			}
			a.logger.WithField("state", state.String()).Debug("Adapter state reported")
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "Try to power the adapter on first")
	cmd.Flags().BoolVar(&bonded, "bonded", false, "List bonded peripherals")
	cmd.Flags().BoolVar(&connected, "connected", false, "List connected peripherals")
	return cmd
}

func printPeripherals(a *app, title string, list []events.Peripheral) error {
	text := fmt.Sprintf("%s: %d", title, len(list))
	for _, p := range list {
		text += fmt.Sprintf("\n  %s %s", p.ID, displayName(p.Name))
	}
	return a.out.Result(list, text)
}
