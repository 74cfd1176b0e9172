// Package devicefactory creates the platform BLE transport.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	goble "github.com/srg/blemgr/internal/device/go-ble"
)

// TransportFactory creates the device.Transport commands run against.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (device.Transport, error) {
	central, err := goble.NewCentral()
	if err != nil {
		return nil, err
	}
	return goble.NewTransport(central, logger), nil
}
