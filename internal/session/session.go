// Package session implements the per-peripheral connection state machine and
// the GATT operations that run on top of it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/chunk"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/gattcache"
)

// Options tune GATT operations of a session
type Options struct {
	// ChunkSize is used for writes that do not specify their own limit
	ChunkSize int `default:"20"`
	// ChunkDelay is waited between consecutive chunks of one write
	ChunkDelay time.Duration `default:"0s"`
}

// DefaultOptions returns Options with every field at its default.
func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

// Session tracks one remote peripheral: its identity, last advertisement,
// connection state and the GATT cache built while connected.
//
// Connect and Disconnect only initiate transitions. The state follows the
// events the transport link reports through ConnectionStateChanged.
type Session struct {
	mu          sync.RWMutex
	id          string
	name        string
	rssi        int
	advertising []byte
	connectable bool
	state       device.ConnectionState
	waiters     []chan error

	link   device.Link
	cache  *gattcache.Cache
	sink   events.Sink
	opts   Options
	logger *logrus.Logger
}

// New creates a disconnected session for id and registers it as the link's listener.
func New(id string, link device.Link, sink events.Sink, logger *logrus.Logger, opts Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunk.DefaultSize
	}
	s := &Session{
		id:     device.NormalizeID(id),
		state:  device.StateDisconnected,
		link:   link,
		cache:  gattcache.New(),
		sink:   sink,
		opts:   opts,
		logger: logger,
	}
	link.SetListener(s)
	return s
}

// ----------------------------
// Identity
// ----------------------------

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) RSSI() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rssi
}

// Link returns the transport handle owned by this session.
func (s *Session) Link() device.Link { return s.link }

// Discovered records the identity and advertisement of a newly seen peripheral.
func (s *Session) Discovered(r device.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = r.Name
	s.rssi = r.RSSI
	s.advertising = r.Data
	s.connectable = r.Connectable
}

// Refresh updates signal strength and advertisement of a known peripheral.
// The name set on first discovery is kept.
func (s *Session) Refresh(r device.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rssi = r.RSSI
	s.advertising = r.Data
	s.connectable = r.Connectable
}

// SetName overrides the name, e.g. with the one read after a bond completes.
// Empty names are ignored.
func (s *Session) SetName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SetRSSI records a signal strength read outside a scan.
func (s *Session) SetRSSI(rssi int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rssi = rssi
}

// Snapshot returns the peripheral description used in events and listings.
func (s *Session) Snapshot() events.Peripheral {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return events.Peripheral{
		ID:   s.id,
		Name: s.name,
		RSSI: s.rssi,
		Advertising: events.Advertising{
			IsConnectable: s.connectable,
			LocalName:     s.name,
			RawData:       events.NewRawData(s.advertising),
		},
	}
}

// ----------------------------
// Connection state
// ----------------------------

func (s *Session) State() device.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == device.StateConnected
}

// Services returns the cached services, empty unless connected and discovered.
func (s *Session) Services() []*gattcache.Service {
	return s.cache.Services()
}

// Connect asks the transport to connect unless the session is already connected.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state == device.StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = device.StateConnecting
	s.mu.Unlock()

	s.logger.WithField("peripheral", s.id).Debug("Connecting to peripheral...")

	if err := s.link.Connect(); err != nil {
		s.mu.Lock()
		if s.state == device.StateConnecting {
			s.state = device.StateDisconnected
		}
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"peripheral": s.id,
			"error":      err,
		}).Error("Failed to connect")
		return device.WrapTransportError("connect", device.NormalizeError(err))
	}
	return nil
}

// WaitConnected blocks until the next Connected transition, returning
// immediately when already connected. A Disconnected transition fails the wait.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.state == device.StateConnected {
		s.mu.Unlock()
		return nil
	}
	ch := s.addWaiterLocked()
	s.mu.Unlock()
	return s.await(ctx, ch)
}

func (s *Session) addWaiterLocked() chan error {
	ch := make(chan error, 1)
	s.waiters = append(s.waiters, ch)
	return ch
}

func (s *Session) dropWaiter(ch chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Session) await(ctx context.Context, ch chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		s.dropWaiter(ch)
		return ctx.Err()
	}
}

// releaseWaitersLocked hands the waiters list out for signalling after unlock.
func (s *Session) releaseWaitersLocked() []chan error {
	w := s.waiters
	s.waiters = nil
	return w
}

func signal(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}

func (s *Session) notConnected() error {
	return &device.ConnectionError{Kind: device.NotConnected, Msg: "peripheral " + s.id}
}

// Disconnect asks the transport to disconnect. Transport failures are logged
// and the session is forced to Disconnected either way.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.state = device.StateDisconnecting
	s.mu.Unlock()

	if err := s.link.Disconnect(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"peripheral": s.id,
			"error":      err,
		}).Warn("Transport disconnect failed")
	}

	s.Invalidate()
	return nil
}

// Invalidate forces Disconnected and empties the GATT cache without touching the transport.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.state = device.StateDisconnected
	s.cache.Clear()
	waiters := s.releaseWaitersLocked()
	s.mu.Unlock()

	signal(waiters, s.notConnected())
}

// Close releases the transport handle.
func (s *Session) Close() error {
	return s.link.Close()
}

// ConnectionStateChanged implements device.LinkListener.
func (s *Session) ConnectionStateChanged(_ string, state device.LinkState) {
	var (
		ev      events.Event
		waiters []chan error
		werr    error
	)

	s.mu.Lock()
	switch state {
	case device.LinkConnected:
		s.state = device.StateConnected
		waiters = s.releaseWaitersLocked()
		ev = events.ConnectPeripheral{Peripheral: s.id, Status: int(state)}
	case device.LinkDisconnected:
		s.state = device.StateDisconnected
		s.cache.Clear()
		waiters = s.releaseWaitersLocked()
		werr = s.notConnected()
		ev = events.DisconnectPeripheral{Peripheral: s.id, Status: int(state)}
	case device.LinkConnecting:
		s.state = device.StateConnecting
	case device.LinkDisconnecting:
		s.state = device.StateDisconnecting
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"peripheral": s.id,
		"state":      state.String(),
	}).Info("Connection state changed")

	signal(waiters, werr)
	if ev != nil {
		s.sink.Emit(ev)
	}
}

// CharacteristicChanged implements device.LinkListener.
func (s *Session) CharacteristicChanged(_ string, service, characteristic string, value []byte) {
	s.logger.WithFields(logrus.Fields{
		"peripheral":     s.id,
		"service":        service,
		"characteristic": characteristic,
		"size":           len(value),
	}).Debug("Characteristic value changed")
	s.sink.Emit(events.NewUpdateValue(s.id, service, characteristic, value))
}

// ----------------------------
// Service discovery
// ----------------------------

// ConnectAndWait connects and blocks until the link reports Connected.
// It returns at once when the session is already connected.
func (s *Session) ConnectAndWait(ctx context.Context) error {
	s.mu.Lock()
	if s.state == device.StateConnected {
		s.mu.Unlock()
		return nil
	}
	ch := s.addWaiterLocked()
	s.mu.Unlock()

	if err := s.Connect(); err != nil {
		s.dropWaiter(ch)
		return err
	}
	return s.await(ctx, ch)
}

// RetrieveServices discovers the peripheral's services, connecting first
// when needed: a disconnected session connects and discovery starts on the
// next Connected event. The cache is rebuilt from the result (duplicate
// service UUIDs keep their first occurrence). A non-empty filter limits the
// returned services; the cache always holds everything discovered.
func (s *Session) RetrieveServices(ctx context.Context, filter []string) ([]*gattcache.Service, error) {
	if err := s.ConnectAndWait(ctx); err != nil {
		return nil, err
	}

	services, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return services, nil
	}

	wanted := make(map[string]bool, len(filter))
	for _, u := range filter {
		wanted[device.NormalizeUUID(u)] = true
	}
	out := make([]*gattcache.Service, 0, len(filter))
	for _, svc := range services {
		if wanted[device.NormalizeUUID(svc.UUID)] {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *Session) discover(ctx context.Context) ([]*gattcache.Service, error) {
	s.logger.WithField("peripheral", s.id).Debug("Discovering services...")

	discovered, err := s.link.DiscoverServices(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"peripheral": s.id,
			"error":      err,
		}).Error("Service discovery failed")
		return nil, device.WrapTransportError("discover services", device.NormalizeError(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The link may have dropped while discovery was in flight
	if s.state != device.StateConnected {
		return nil, s.notConnected()
	}
	services := s.cache.Populate(discovered)

	s.logger.WithFields(logrus.Fields{
		"peripheral": s.id,
		"services":   len(services),
	}).Debug("Services discovered")
	return services, nil
}

// ready checks the session is connected and makes sure the cache is populated.
func (s *Session) ready(ctx context.Context) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state != device.StateConnected {
		return s.notConnected()
	}
	if s.cache.IsEmpty() {
		if _, err := s.discover(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------
// GATT operations
// ----------------------------

// Read returns the current value of a readable characteristic.
func (s *Session) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	char, err := s.cache.CharacteristicWith(service, characteristic, device.PropRead, "read")
	if err != nil {
		return nil, err
	}

	value, err := s.link.ReadCharacteristic(ctx, char.Service, char.UUID)
	if err != nil {
		return nil, device.WrapTransportError("read", device.NormalizeError(err))
	}
	s.logger.WithFields(logrus.Fields{
		"peripheral":     s.id,
		"characteristic": characteristic,
		"size":           len(value),
	}).Debug("Characteristic read")
	return value, nil
}

// Write sends data to a characteristic, split into chunks of at most
// chunkSize bytes (the session default when chunkSize <= 0). withResponse
// selects acknowledged writes and requires the Write property, otherwise
// WriteWithoutResponse is required.
func (s *Session) Write(ctx context.Context, service, characteristic string, data []byte, chunkSize int, withResponse bool) (chunk.Result, error) {
	if err := s.ready(ctx); err != nil {
		return chunk.Result{}, err
	}

	mask, capability := device.PropWriteWithoutResponse, "write without response"
	if withResponse {
		mask, capability = device.PropWrite, "write"
	}
	char, err := s.cache.CharacteristicWith(service, characteristic, mask, capability)
	if err != nil {
		return chunk.Result{}, err
	}

	if chunkSize <= 0 {
		chunkSize = s.opts.ChunkSize
	}
	pending, err := chunk.NewPendingWrite(char.UUID, data, chunkSize)
	if err != nil {
		return chunk.Result{}, err
	}

	writer := chunk.NewWriter(func(ctx context.Context, c []byte) error {
		if err := s.link.WriteCharacteristic(ctx, char.Service, char.UUID, c, withResponse); err != nil {
			return device.WrapTransportError("write", device.NormalizeError(err))
		}
		return nil
	}, s.opts.ChunkDelay, s.logger)

	res, err := writer.Write(ctx, pending)
	if err != nil {
		return res, fmt.Errorf("write to %s: %w", characteristic, err)
	}

	s.logger.WithFields(logrus.Fields{
		"peripheral":     s.id,
		"characteristic": characteristic,
		"size":           len(data),
		"chunks":         res.Total,
	}).Debug("Characteristic written")
	return res, nil
}

// ReadDescriptor reads a descriptor and records the value in the cache.
func (s *Session) ReadDescriptor(ctx context.Context, service, characteristic, descriptor string) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	char, err := s.cache.Characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}
	desc, err := s.cache.Descriptor(service, characteristic, descriptor)
	if err != nil {
		return nil, err
	}

	value, err := s.link.ReadDescriptor(ctx, char.Service, char.UUID, desc.UUID)
	if err != nil {
		return nil, device.WrapTransportError("read descriptor", device.NormalizeError(err))
	}
	_ = s.cache.SetDescriptorValue(service, characteristic, descriptor, value)
	return value, nil
}

// WriteDescriptor writes a descriptor in one operation and records the value in the cache.
func (s *Session) WriteDescriptor(ctx context.Context, service, characteristic, descriptor string, data []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	char, err := s.cache.Characteristic(service, characteristic)
	if err != nil {
		return err
	}
	desc, err := s.cache.Descriptor(service, characteristic, descriptor)
	if err != nil {
		return err
	}

	if err := s.link.WriteDescriptor(ctx, char.Service, char.UUID, desc.UUID, data); err != nil {
		return device.WrapTransportError("write descriptor", device.NormalizeError(err))
	}
	_ = s.cache.SetDescriptorValue(service, characteristic, descriptor, data)
	return nil
}

// StartNotification subscribes to a characteristic. Notify is preferred,
// indications are used when the characteristic only supports those.
func (s *Session) StartNotification(ctx context.Context, service, characteristic string) error {
	return s.setNotification(ctx, service, characteristic, true)
}

// StopNotification unsubscribes from a characteristic.
func (s *Session) StopNotification(ctx context.Context, service, characteristic string) error {
	return s.setNotification(ctx, service, characteristic, false)
}

func (s *Session) setNotification(ctx context.Context, service, characteristic string, enable bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	char, err := s.cache.CharacteristicWith(service, characteristic, device.PropNotify|device.PropIndicate, "notify")
	if err != nil {
		return err
	}

	indicate := !char.Properties.Has(device.PropNotify)
	if err := s.link.SetNotification(ctx, char.Service, char.UUID, enable, indicate); err != nil {
		return device.WrapTransportError("set notification", device.NormalizeError(err))
	}

	s.logger.WithFields(logrus.Fields{
		"peripheral":     s.id,
		"characteristic": characteristic,
		"enable":         enable,
		"indicate":       indicate,
	}).Debug("Notification state changed")
	return nil
}

// RequestMTU forwards an MTU request and reports the requested value back.
// Negotiation itself is left to the transport.
func (s *Session) RequestMTU(ctx context.Context, mtu int) (int, error) {
	if mtu <= 0 {
		return 0, fmt.Errorf("invalid MTU %d", mtu)
	}
	if !s.IsConnected() {
		return 0, s.notConnected()
	}
	if _, err := s.link.RequestMTU(ctx, mtu); err != nil {
		return 0, device.WrapTransportError("request MTU", device.NormalizeError(err))
	}
	return mtu, nil
}

// ReadRSSI reads the signal strength of a connected peripheral.
func (s *Session) ReadRSSI(ctx context.Context) (int, error) {
	if !s.IsConnected() {
		return 0, s.notConnected()
	}
	rssi, err := s.link.ReadRSSI(ctx)
	if err != nil {
		return 0, device.WrapTransportError("read RSSI", device.NormalizeError(err))
	}
	s.mu.Lock()
	s.rssi = rssi
	s.mu.Unlock()
	return rssi, nil
}
