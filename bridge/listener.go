package bridge

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
)

// ScanResult implements device.TransportListener.
func (b *Bridge) ScanResult(result device.ScanResult) {
	b.scanner.HandleScanResult(result)
}

// ScanFailed implements device.TransportListener.
func (b *Bridge) ScanFailed(err error) {
	b.scanner.HandleScanFailure(err)
}

// BondStateChanged implements device.TransportListener.
func (b *Bridge) BondStateChanged(id string, state device.BondState) {
	b.bonds.BondStateChanged(id, state)
}

// PinRequired implements device.TransportListener.
func (b *Bridge) PinRequired(id string) {
	b.bonds.PinRequired(id)
}

// AdapterStateChanged implements device.TransportListener. Powering off
// drops every session; turning off disconnects them first.
func (b *Bridge) AdapterStateChanged(state device.AdapterState) {
	b.logger.WithFields(logrus.Fields{
		"state": state.String(),
	}).Info("Adapter state changed")

	switch state {
	case device.AdapterOff:
		b.scanner.AdapterOff()
		b.registry.HandleAdapterState(state)
	case device.AdapterTurningOff:
		b.registry.HandleAdapterState(state)
	}
	b.sink.Emit(events.NewStateChanged(state))
}
