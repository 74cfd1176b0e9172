//go:build test

package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blemgr/internal/chunk"
	"github.com/srg/blemgr/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("scan: %w", device.ErrBluetoothOff), "Bluetooth is turned off, enable it and retry"},
		{"not connected", device.ErrNotConnected, "peripheral is not connected"},
		{"unsupported", fmt.Errorf("pair: %w", device.ErrUnsupported), "operation is not supported on this platform"},
		{"timeout", fmt.Errorf("connect: %w", context.DeadlineExceeded), "operation timed out"},
		{"invalid address", &device.InvalidAddressError{Address: "xyz"}, `invalid peripheral address "xyz", expected XX:XX:XX:XX:XX:XX`},
		{
			"not found",
			&device.NotFoundError{Resource: "service", UUIDs: []string{"180f"}},
			`service "180f" not found`,
		},
		{
			"transport code",
			&device.TransportError{Op: "read", Code: 5, Err: errors.New("insufficient authentication")},
			"read failed with platform status 5",
		},
		{
			"transport no code",
			&device.TransportError{Op: "read", Err: errors.New("boom")},
			"read failed: boom",
		},
		{
			"chunk",
			&chunk.Error{Index: 1, Total: 3, Offset: 20, Err: &device.TransportError{Op: "write", Code: 13, Err: errors.New("x")}},
			"write stopped after 1 of 3 chunks: write failed with platform status 13",
		},
		{"other", errors.New("something else"), "something else"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestNewPrinterRejectsUnknownFormat(t *testing.T) {
	_, err := newPrinter(nil, "xml")
	assert.EqualError(t, err, "invalid format 'xml': must be one of [text json]")
}

func TestIntsToHex(t *testing.T) {
	assert.Equal(t, "00FF10", intsToHex([]int{0, 255, 16}))
	assert.Equal(t, "", intsToHex(nil))
}
