package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
)

type scanFlags struct {
	duration        time.Duration
	services        []string
	names           []string
	mode            string
	allowDuplicates bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for Bluetooth Low Energy peripherals and print a discover-peripheral
event for every advertisement, followed by the stop-scan status.

The scan ends after --duration (whole seconds, 0 scans until Ctrl+C).

Examples:
  # Scan for 5 seconds
  blemgr scan -d 5s

  # Only heart rate monitors, as JSON lines
  blemgr scan -s 180d --format json

  # Exact advertised name, every advertisement reported
  blemgr scan --name Thermo --allow-duplicates`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, f)
		},
	}
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (default from config, 0s for indefinite)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&f.names, "name", nil, "Filter by exact advertised names")
	cmd.Flags().StringVar(&f.mode, "mode", "low-power", "Scan mode (opportunistic, low-power, balanced, low-latency)")
	cmd.Flags().BoolVar(&f.allowDuplicates, "allow-duplicates", false, "Report every advertisement, not just the first per peripheral")
	return cmd
}

func parseScanMode(s string) (device.ScanMode, error) {
	for _, m := range []device.ScanMode{
		device.ScanModeOpportunistic,
		device.ScanModeLowPower,
		device.ScanModeBalanced,
		device.ScanModeLowLatency,
	} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("invalid scan mode '%s': must be one of [opportunistic low-power balanced low-latency]", s)
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	mode, err := parseScanMode(f.mode)
	if err != nil {
		return err
	}
	var services []string
	if len(f.services) > 0 {
		if services, err = device.ValidateUUID(f.services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	duration := a.cfg.ScanDuration
	if cmd.Flags().Changed("duration") {
		duration = f.duration
	}
	seconds := int(duration.Round(time.Second) / time.Second)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	opts := device.ScanOptions{ScanMode: mode, ExactAdvertisingName: f.names}
	if err := a.bridge.Scan(services, seconds, f.allowDuplicates, opts); err != nil {
		a.drain()
		return err
	}

	p := startProgress(os.Stderr, "Scanning", time.Duration(seconds)*time.Second)
	defer p.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			if err := a.bridge.StopScan(); err != nil {
				return err
			}
		case ev, ok := <-a.events.Events():
			if !ok {
				return nil
			}
			p.Stop()
			a.out.Event(ev)
			if stop, isStop := ev.(events.StopScan); isStop {
				return scanStatusError(stop.Status)
			}
		}
	}
}

// scanStatusError maps a stop-scan status to the command result
func scanStatusError(status int) error {
	switch status {
	case events.StopScanStatusSuccess, events.StopScanStatusTimeout:
		return nil
	default:
		return fmt.Errorf("%w: platform status %d", ErrScanFailed, status)
	}
}
