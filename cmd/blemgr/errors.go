package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blemgr/internal/chunk"
	"github.com/srg/blemgr/internal/device"
)

// Command-level errors
var (
	// ErrScanFailed is returned when a scan ends with a platform status
	ErrScanFailed = errors.New("scan failed")
)

// FormatUserError turns err into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		nf    *device.NotFoundError
		addr  *device.InvalidAddressError
		terr  *device.TransportError
		chErr *chunk.Error
	)
	switch {
	case device.IsConnectionKind(err, device.BluetoothOff):
		return "Bluetooth is turned off, enable it and retry"
	case device.IsConnectionKind(err, device.NotConnected):
		return "peripheral is not connected"
	case errors.Is(err, device.ErrUnsupported):
		return "operation is not supported on this platform"
	case errors.Is(err, device.ErrBondRefused):
		return "bonding was refused by the peripheral or the user"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.As(err, &addr):
		return fmt.Sprintf("invalid peripheral address %q, expected XX:XX:XX:XX:XX:XX", addr.Address)
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &chErr):
		return fmt.Sprintf("write stopped after %d of %d chunks: %s", chErr.Index, chErr.Total, FormatUserError(chErr.Err))
	case errors.As(err, &terr):
		if terr.Code != 0 {
			return fmt.Sprintf("%s failed with platform status %d", terr.Op, terr.Code)
		}
		return terr.Error()
	default:
		return err.Error()
	}
}
