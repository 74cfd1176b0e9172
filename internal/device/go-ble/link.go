package goble

import (
	"context"
	"sync"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/bledb"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/groutine"
)

// Link is a device.Link over a go-ble client.
//
// Connect dials in the background and reports the outcome through the
// listener. A dropped connection is detected through the client's
// Disconnected() channel where the platform provides one.
type Link struct {
	id        string
	transport *Transport
	logger    *logrus.Logger

	mu          sync.Mutex
	listener    device.LinkListener
	client      Client
	profile     *ble.Profile
	cancelDial  context.CancelFunc
	stopMonitor context.CancelFunc
}

func newLink(id string, t *Transport) *Link {
	return &Link{id: id, transport: t, logger: t.logger}
}

func (l *Link) ID() string { return l.id }

func (l *Link) SetListener(listener device.LinkListener) {
	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()
}

func (l *Link) emitState(state device.LinkState) {
	l.mu.Lock()
	listener := l.listener
	l.mu.Unlock()
	if listener != nil {
		listener.ConnectionStateChanged(l.id, state)
	}
}

// Connect starts dialing. Calling it while a dial is running is a no-op.
func (l *Link) Connect() error {
	l.mu.Lock()
	if l.client != nil {
		l.mu.Unlock()
		l.emitState(device.LinkConnected)
		return nil
	}
	if l.cancelDial != nil {
		l.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelDial = cancel
	l.mu.Unlock()

	l.logger.WithField("peripheral", l.id).Debug("Dialing BLE device...")
	groutine.Go(ctx, "ble-dial-"+l.id, func(ctx context.Context) {
		client, err := l.transport.central.Dial(ctx, l.id)

		l.mu.Lock()
		l.cancelDial = nil
		if err != nil {
			l.mu.Unlock()
			cancel()
			l.logger.WithFields(logrus.Fields{
				"peripheral": l.id,
				"error":      NormalizeError(err),
			}).Warn("Failed to dial BLE device")
			l.emitState(device.LinkDisconnected)
			return
		}
		monitorCtx, stop := context.WithCancel(context.Background())
		l.client = client
		l.stopMonitor = stop
		l.mu.Unlock()
		cancel()

		l.monitor(monitorCtx, client)
		l.logger.WithField("peripheral", l.id).Info("BLE device connected")
		l.emitState(device.LinkConnected)
	})
	return nil
}

// monitor watches the client's Disconnected() channel when it has one.
func (l *Link) monitor(ctx context.Context, client Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(ctx, "ble-connection-monitor-"+l.id, func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if l.drop(client) {
				groutine.Entry(ctx, l.logger).WithField("peripheral", l.id).Warn("Platform reported disconnection")
				l.emitState(device.LinkDisconnected)
			}
		case <-ctx.Done():
		}
	})
}

// drop clears client if it is still the current one. Only the caller that
// wins the drop reports the disconnection.
func (l *Link) drop(client Client) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil || l.client != client {
		return false
	}
	l.client = nil
	l.profile = nil
	if l.stopMonitor != nil {
		l.stopMonitor()
		l.stopMonitor = nil
	}
	return true
}

// Disconnect cancels a running dial or tears the connection down. An idle
// link has nothing to report.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.cancelDial != nil {
		cancel := l.cancelDial
		l.mu.Unlock()
		cancel()
		return nil
	}
	client := l.client
	l.mu.Unlock()

	if client == nil {
		l.logger.WithField("peripheral", l.id).Debug("Disconnect on an idle link")
		return nil
	}

	err := client.CancelConnection()
	if l.drop(client) {
		l.emitState(device.LinkDisconnected)
	}
	if err != nil {
		return device.WrapTransportError("disconnect", NormalizeError(err))
	}
	return nil
}

func (l *Link) connected() (Client, *ble.Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	return l.client, l.profile, nil
}

// withContext runs a blocking go-ble call, giving up when ctx is done.
// The call itself keeps running; go-ble calls cannot be interrupted.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, NormalizeError(r.err)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (l *Link) DiscoverServices(ctx context.Context) ([]device.GattService, error) {
	client, _, err := l.connected()
	if err != nil {
		return nil, err
	}
	profile, err := withContext(ctx, func() (*ble.Profile, error) {
		return client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, device.WrapTransportError("discover services", err)
	}

	l.mu.Lock()
	if l.client == client {
		l.profile = profile
	}
	l.mu.Unlock()

	if l.logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, s := range profile.Services {
			l.logger.WithFields(logrus.Fields{
				"peripheral":      l.id,
				"service":         s.UUID.String(),
				"name":            bledb.LookupService(s.UUID.String()),
				"characteristics": len(s.Characteristics),
			}).Debug("Discovered service")
		}
	}
	return servicesFromProfile(profile), nil
}

func (l *Link) ReadCharacteristic(ctx context.Context, service, characteristic string) ([]byte, error) {
	client, profile, err := l.connected()
	if err != nil {
		return nil, err
	}
	c, err := findCharacteristic(profile, service, characteristic)
	if err != nil {
		return nil, err
	}
	data, err := withContext(ctx, func() ([]byte, error) {
		return client.ReadCharacteristic(c)
	})
	if err != nil {
		return nil, device.WrapTransportError("read characteristic", err)
	}
	return data, nil
}

func (l *Link) WriteCharacteristic(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error {
	client, profile, err := l.connected()
	if err != nil {
		return err
	}
	c, err := findCharacteristic(profile, service, characteristic)
	if err != nil {
		return err
	}
	_, err = withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.WriteCharacteristic(c, data, !withResponse)
	})
	return device.WrapTransportError("write characteristic", err)
}

func (l *Link) ReadDescriptor(ctx context.Context, service, characteristic, descriptor string) ([]byte, error) {
	client, profile, err := l.connected()
	if err != nil {
		return nil, err
	}
	d, err := findDescriptor(profile, service, characteristic, descriptor)
	if err != nil {
		return nil, err
	}
	data, err := withContext(ctx, func() ([]byte, error) {
		return client.ReadDescriptor(d)
	})
	if err != nil {
		return nil, device.WrapTransportError("read descriptor", err)
	}
	return data, nil
}

func (l *Link) WriteDescriptor(ctx context.Context, service, characteristic, descriptor string, data []byte) error {
	client, profile, err := l.connected()
	if err != nil {
		return err
	}
	d, err := findDescriptor(profile, service, characteristic, descriptor)
	if err != nil {
		return err
	}
	_, err = withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.WriteDescriptor(d, data)
	})
	return device.WrapTransportError("write descriptor", err)
}

// SetNotification subscribes through go-ble, which also writes the CCCD.
func (l *Link) SetNotification(ctx context.Context, service, characteristic string, enable, indicate bool) error {
	client, profile, err := l.connected()
	if err != nil {
		return err
	}
	c, err := findCharacteristic(profile, service, characteristic)
	if err != nil {
		return err
	}
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)

	_, err = withContext(ctx, func() (struct{}, error) {
		if !enable {
			return struct{}{}, client.Unsubscribe(c, indicate)
		}
		return struct{}{}, client.Subscribe(c, indicate, func(data []byte) {
			l.mu.Lock()
			listener := l.listener
			l.mu.Unlock()
			if listener != nil {
				listener.CharacteristicChanged(l.id, svcUUID, charUUID, append([]byte(nil), data...))
			}
		})
	})
	if enable {
		return device.WrapTransportError("enable notification", err)
	}
	return device.WrapTransportError("disable notification", err)
}

func (l *Link) RequestMTU(ctx context.Context, mtu int) (int, error) {
	client, _, err := l.connected()
	if err != nil {
		return 0, err
	}
	granted, err := withContext(ctx, func() (int, error) {
		return client.ExchangeMTU(mtu)
	})
	if err != nil {
		return 0, device.WrapTransportError("request mtu", err)
	}
	return granted, nil
}

func (l *Link) ReadRSSI(_ context.Context) (int, error) {
	client, _, err := l.connected()
	if err != nil {
		return 0, err
	}
	return client.ReadRSSI(), nil
}

func (l *Link) DeviceName(_ context.Context) (string, error) {
	client, _, err := l.connected()
	if err != nil {
		return "", err
	}
	return client.Name(), nil
}

// Close disconnects and forgets the link. Events are no longer delivered.
func (l *Link) Close() error {
	err := l.Disconnect()
	l.SetListener(nil)
	l.transport.forget(l)
	return err
}
