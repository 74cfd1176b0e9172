package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/device"
)

const exampleAddress = "AA:BB:CC:DD:EE:FF"

// gattTarget is the peripheral, service and characteristic a GATT command works on
type gattTarget struct {
	id             string
	service        string
	characteristic string
}

// parseTarget validates <address> <service> <characteristic> arguments.
func parseTarget(args []string) (gattTarget, error) {
	if err := device.ValidateAddress(args[0]); err != nil {
		return gattTarget{}, err
	}
	uuids, err := device.ValidateUUID(args[1], args[2])
	if err != nil {
		return gattTarget{}, err
	}
	return gattTarget{id: device.NormalizeID(args[0]), service: uuids[0], characteristic: uuids[1]}, nil
}

func newServicesCmd() *cobra.Command {
	var serviceFilter []string
	cmd := &cobra.Command{
		Use:   "services <address>",
		Short: "Connect and list GATT services",
		Long: fmt.Sprintf(`Connects to a peripheral, discovers its services and prints them with
their characteristics, properties and descriptors as JSON.

Examples:
  blemgr services %s

  # Only the battery service
  blemgr services %s -s 180f`, exampleAddress, exampleAddress),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := device.ValidateAddress(args[0]); err != nil {
				return err
			}
			var services []string
			if len(serviceFilter) > 0 {
				var err error
				if services, err = device.ValidateUUID(serviceFilter...); err != nil {
					return fmt.Errorf("invalid service UUID: %w", err)
				}
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			id := device.NormalizeID(args[0])
			defer a.disconnect(id)
			result, err := a.bridge.RetrieveServices(ctx, id, services)
			if err != nil {
				return err
			}
			return a.out.JSON(result)
		},
	}
	cmd.Flags().StringSliceVarP(&serviceFilter, "services", "s", nil, "Only list these service UUIDs")
	return cmd
}
