package goble

import (
	"context"
	"strings"

	ble "github.com/go-ble/ble"
)

// Client is the subset of ble.Client a Link drives
type Client interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ExchangeMTU(rxMTU int) (int, error)
	ReadRSSI() int
	CancelConnection() error
}

// Central scans for and dials remote devices
type Central interface {
	Scan(ctx context.Context, allowDup bool, h func(ble.Advertisement)) error
	Dial(ctx context.Context, addr string) (Client, error)
}

// deviceCentral adapts a ble.Device to Central
type deviceCentral struct {
	dev ble.Device
}

func (c *deviceCentral) Scan(ctx context.Context, allowDup bool, h func(ble.Advertisement)) error {
	return c.dev.Scan(ctx, allowDup, h)
}

func (c *deviceCentral) Dial(ctx context.Context, addr string) (Client, error) {
	client, err := c.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewCentral opens the platform BLE device through DeviceFactory.
func NewCentral() (Central, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &deviceCentral{dev: dev}, nil
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
