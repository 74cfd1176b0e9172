//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/srg/blemgr/internal/device"
)

// WriteCall records one characteristic write issued through a FakeLink
type WriteCall struct {
	Service        string
	Characteristic string
	Data           []byte
	WithResponse   bool
}

// NotifyCall records one SetNotification call
type NotifyCall struct {
	Service        string
	Characteristic string
	Enable         bool
	Indicate       bool
}

// FakeLink is a scriptable in-memory device.Link.
//
// With AutoConnect set, Connect and Disconnect report the new state to the
// listener synchronously, before returning; Disconnect stays silent on a link
// that never connected, like the go-ble link. Otherwise tests drive state
// changes with EmitState.
type FakeLink struct {
	mu       sync.Mutex
	id       string
	listener device.LinkListener

	AutoConnect bool
	Services    []device.GattService
	Values      map[string][]byte // "service/characteristic" -> value
	Name        string
	RSSI        int

	ConnectErr    error
	DisconnectErr error
	DiscoverErr   error
	ReadErr       error
	NotifyErr     error
	MTUErr        error
	RSSIErr       error
	NameErr       error
	// OnDeviceName runs before DeviceName answers
	OnDeviceName func()
	// FailWriteAt makes the n-th WriteCharacteristic call (1-based) fail with WriteErr
	FailWriteAt int
	WriteErr    error

	connectCalls    int
	disconnectCalls int
	discoverCalls   int
	writes          []WriteCall
	descWrites      []WriteCall
	notifies        []NotifyCall
	mtuRequests     []int
	closed          bool
	up              bool
}

// NewFakeLink creates a link for id with no services.
func NewFakeLink(id string) *FakeLink {
	return &FakeLink{id: id, Values: make(map[string][]byte)}
}

func valueKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

func (l *FakeLink) ID() string { return l.id }

func (l *FakeLink) SetListener(listener device.LinkListener) {
	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()
}

// EmitState delivers a connection state change to the registered listener.
func (l *FakeLink) EmitState(state device.LinkState) {
	l.mu.Lock()
	l.up = state == device.LinkConnected
	listener := l.listener
	l.mu.Unlock()
	if listener != nil {
		listener.ConnectionStateChanged(l.id, state)
	}
}

// EmitValue delivers a characteristic notification to the registered listener.
func (l *FakeLink) EmitValue(service, characteristic string, value []byte) {
	l.mu.Lock()
	listener := l.listener
	l.mu.Unlock()
	if listener != nil {
		listener.CharacteristicChanged(l.id, service, characteristic, value)
	}
}

func (l *FakeLink) Connect() error {
	l.mu.Lock()
	l.connectCalls++
	err := l.ConnectErr
	auto := l.AutoConnect
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		l.EmitState(device.LinkConnected)
	}
	return nil
}

func (l *FakeLink) Disconnect() error {
	l.mu.Lock()
	l.disconnectCalls++
	err := l.DisconnectErr
	auto := l.AutoConnect && l.up
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		l.EmitState(device.LinkDisconnected)
	}
	return nil
}

func (l *FakeLink) DiscoverServices(_ context.Context) ([]device.GattService, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoverCalls++
	if l.DiscoverErr != nil {
		return nil, l.DiscoverErr
	}
	return l.Services, nil
}

func (l *FakeLink) ReadCharacteristic(_ context.Context, service, characteristic string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	return l.Values[valueKey(service, characteristic)], nil
}

func (l *FakeLink) WriteCharacteristic(_ context.Context, service, characteristic string, data []byte, withResponse bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.writes) + 1
	if l.FailWriteAt > 0 && n == l.FailWriteAt {
		return l.WriteErr
	}
	l.writes = append(l.writes, WriteCall{
		Service:        service,
		Characteristic: characteristic,
		Data:           append([]byte(nil), data...),
		WithResponse:   withResponse,
	})
	return nil
}

func (l *FakeLink) ReadDescriptor(_ context.Context, service, characteristic, descriptor string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	return l.Values[valueKey(service, characteristic)+"/"+device.NormalizeUUID(descriptor)], nil
}

func (l *FakeLink) WriteDescriptor(_ context.Context, service, characteristic, descriptor string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.WriteErr != nil && l.FailWriteAt == 0 {
		return l.WriteErr
	}
	l.descWrites = append(l.descWrites, WriteCall{Service: service, Characteristic: characteristic + "/" + descriptor, Data: append([]byte(nil), data...)})
	l.Values[valueKey(service, characteristic)+"/"+device.NormalizeUUID(descriptor)] = append([]byte(nil), data...)
	return nil
}

func (l *FakeLink) SetNotification(_ context.Context, service, characteristic string, enable, indicate bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NotifyErr != nil {
		return l.NotifyErr
	}
	l.notifies = append(l.notifies, NotifyCall{Service: service, Characteristic: characteristic, Enable: enable, Indicate: indicate})
	return nil
}

func (l *FakeLink) RequestMTU(_ context.Context, mtu int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.MTUErr != nil {
		return 0, l.MTUErr
	}
	l.mtuRequests = append(l.mtuRequests, mtu)
	return mtu, nil
}

func (l *FakeLink) ReadRSSI(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.RSSIErr != nil {
		return 0, l.RSSIErr
	}
	return l.RSSI, nil
}

func (l *FakeLink) DeviceName(_ context.Context) (string, error) {
	if l.OnDeviceName != nil {
		l.OnDeviceName()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NameErr != nil {
		return "", l.NameErr
	}
	return l.Name, nil
}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// ----------------------------
// Recorded calls
// ----------------------------

func (l *FakeLink) ConnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectCalls
}

func (l *FakeLink) DisconnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnectCalls
}

func (l *FakeLink) DiscoverCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discoverCalls
}

func (l *FakeLink) Writes() []WriteCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WriteCall(nil), l.writes...)
}

func (l *FakeLink) DescriptorWrites() []WriteCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WriteCall(nil), l.descWrites...)
}

func (l *FakeLink) Notifies() []NotifyCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]NotifyCall(nil), l.notifies...)
}

func (l *FakeLink) MTURequests() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.mtuRequests...)
}

func (l *FakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// SetValue sets the value returned by reads of a characteristic.
func (l *FakeLink) SetValue(service, characteristic string, value []byte) {
	l.mu.Lock()
	l.Values[valueKey(service, characteristic)] = value
	l.mu.Unlock()
}

// SetDescriptorValue sets the value returned by reads of a descriptor.
func (l *FakeLink) SetDescriptorValue(service, characteristic, descriptor string, value []byte) {
	l.mu.Lock()
	l.Values[valueKey(service, characteristic)+"/"+device.NormalizeUUID(descriptor)] = value
	l.mu.Unlock()
}
