package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
)

func newNotifyCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "notify <address> <service> <characteristic>",
		Short: "Stream characteristic notifications",
		Long: fmt.Sprintf(`Connects, subscribes to a characteristic and prints an update-value event
for every notification until Ctrl+C or --duration elapses.

Examples:
  # Heart rate measurements
  blemgr notify %s 180d 2a37

  # Battery level for one minute, as JSON lines
  blemgr notify %s 180f 2a19 --duration 1m --format json`, exampleAddress, exampleAddress),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTarget(args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, duration)
				defer stop()
			}

			defer a.disconnect(t.id)
			if _, err := a.bridge.RetrieveServices(ctx, t.id, []string{t.service}); err != nil {
				return err
			}
			if err := a.bridge.StartNotification(ctx, t.id, t.service, t.characteristic); err != nil {
				return err
			}
			defer func() {
				if err := a.bridge.StopNotification(context.Background(), t.id, t.service, t.characteristic); err != nil {
					a.logger.WithFields(logrus.Fields{"peripheral": t.id, "error": err}).Debug("Unsubscribe on exit failed")
				}
			}()

			return streamNotifications(ctx, a, t.id)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 streams until Ctrl+C)")
	return cmd
}

// streamNotifications prints events until ctx ends or the peripheral disconnects.
func streamNotifications(ctx context.Context, a *app, id string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.events.Events():
			if !ok {
				return nil
			}
			a.out.Event(ev)
			if d, isDisconnect := ev.(events.DisconnectPeripheral); isDisconnect && d.Peripheral == id {
				return device.ErrNotConnected
			}
		}
	}
}
