//go:build test

// Package mocks holds testify mocks of the go-ble client and central.
package mocks

import (
	"context"
	"sync"

	ble "github.com/go-ble/ble"
	goble "github.com/srg/blemgr/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock goble.Client. Drop simulates a platform disconnection.
type MockClient struct {
	mock.Mock

	once         sync.Once
	disconnected chan struct{}
}

func NewMockClient() *MockClient {
	return &MockClient{disconnected: make(chan struct{})}
}

func (m *MockClient) Name() string {
	return m.Called().String(0)
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return m.Called(d, v).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop closes the Disconnected channel.
func (m *MockClient) Drop() {
	m.once.Do(func() { close(m.disconnected) })
}

// MockCentral is a mock goble.Central.
//
// Scan replays Advertisements to the handler, then blocks until ctx is
// cancelled or ScanFail delivers an error, unless the expectation returns
// an error.
type MockCentral struct {
	mock.Mock

	Advertisements []ble.Advertisement
	ScanFail       chan error
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h func(ble.Advertisement)) error {
	args := m.Called(ctx, allowDup)
	if err := args.Error(0); err != nil {
		return err
	}
	for _, adv := range m.Advertisements {
		h(adv)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.ScanFail:
		return err
	}
}

func (m *MockCentral) Dial(ctx context.Context, addr string) (goble.Client, error) {
	args := m.Called(ctx, addr)
	c, _ := args.Get(0).(goble.Client)
	return c, args.Error(1)
}
