// Package bridge is the host-facing facade of the peripheral manager. Every
// method settles exactly once, with a value or an error; asynchronous state
// changes are delivered through the configured events.Sink.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/bond"
	"github.com/srg/blemgr/internal/chunk"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/registry"
	"github.com/srg/blemgr/internal/session"
	"github.com/srg/blemgr/scanner"
)

// Options configures a Bridge
type Options struct {
	Transport device.Transport
	Sink      events.Sink
	Logger    *logrus.Logger

	// ChunkSize is the default write chunk size
	ChunkSize int `default:"20"`
	// ChunkDelay is waited between chunks of one write
	ChunkDelay time.Duration `default:"0s"`
	// ConnectTimeout bounds Connect and the implicit connect of RetrieveServices
	ConnectTimeout time.Duration `default:"30s"`
	// OperationTimeout bounds GATT operations when the caller's context has no deadline
	OperationTimeout time.Duration `default:"10s"`
}

// ConnectOptions tune one Connect call
type ConnectOptions struct {
	// Timeout overrides Options.ConnectTimeout when > 0
	Timeout time.Duration
}

// Bridge wires the registry, scanner and bond coordinator to one transport.
type Bridge struct {
	transport device.Transport
	sink      events.Sink
	logger    *logrus.Logger
	opts      Options

	registry *registry.Registry
	scanner  *scanner.Scanner
	bonds    *bond.Coordinator
}

// New creates a Bridge and registers it as the transport listener.
func New(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("bridge: transport is required")
	}
	resolved := Options{}
	defaults.SetDefaults(&resolved)
	resolved.Transport = opts.Transport
	resolved.Sink = opts.Sink
	resolved.Logger = opts.Logger
	if opts.ChunkSize > 0 {
		resolved.ChunkSize = opts.ChunkSize
	}
	if opts.ChunkDelay > 0 {
		resolved.ChunkDelay = opts.ChunkDelay
	}
	if opts.ConnectTimeout > 0 {
		resolved.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.OperationTimeout > 0 {
		resolved.OperationTimeout = opts.OperationTimeout
	}
	if resolved.Logger == nil {
		resolved.Logger = logrus.New()
	}
	if resolved.Sink == nil {
		resolved.Sink = events.Discard
	}

	sessOpts := session.Options{ChunkSize: resolved.ChunkSize, ChunkDelay: resolved.ChunkDelay}
	reg := registry.New(resolved.Transport, resolved.Sink, resolved.Logger, sessOpts)
	b := &Bridge{
		transport: resolved.Transport,
		sink:      resolved.Sink,
		logger:    resolved.Logger,
		opts:      resolved,
		registry:  reg,
		scanner:   scanner.New(resolved.Transport, reg, resolved.Sink, resolved.Logger),
		bonds:     bond.New(resolved.Transport, reg, resolved.Sink, resolved.Logger),
	}
	b.transport.SetListener(b)
	return b, nil
}

// Registry exposes the peripheral registry.
func (b *Bridge) Registry() *registry.Registry { return b.registry }

// withTimeout applies d unless ctx already carries a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (b *Bridge) peripheral(id string) (*session.Session, error) {
	s, ok := b.registry.Get(id)
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{device.NormalizeID(id)}}
	}
	return s, nil
}

// ----------------------------
// Adapter
// ----------------------------

// Start opens the manager for use. It fails when the platform has no BLE support.
func (b *Bridge) Start() error {
	state := b.transport.AdapterState()
	if state == device.AdapterUnsupported {
		return fmt.Errorf("bluetooth: %w", device.ErrUnsupported)
	}
	b.logger.WithField("state", state.String()).Info("Peripheral manager started")
	return nil
}

// CheckState emits state-changed with the current adapter state and returns it.
func (b *Bridge) CheckState() device.AdapterState {
	state := b.transport.AdapterState()
	b.sink.Emit(events.NewStateChanged(state))
	return state
}

// EnableBluetooth asks the platform to power the adapter on.
func (b *Bridge) EnableBluetooth() error {
	if b.transport.AdapterState() == device.AdapterOn {
		return nil
	}
	enabler, ok := b.transport.(device.AdapterEnabler)
	if !ok {
		return fmt.Errorf("enable bluetooth: %w", device.ErrUnsupported)
	}
	if err := enabler.Enable(); err != nil {
		return device.WrapTransportError("enable bluetooth", device.NormalizeError(err))
	}
	return nil
}

// ----------------------------
// Scanning
// ----------------------------

// Scan starts discovery for seconds (0 scans until StopScan).
func (b *Bridge) Scan(serviceUUIDs []string, seconds int, allowDuplicates bool, opts device.ScanOptions) error {
	if b.transport.AdapterState() != device.AdapterOn {
		return device.ErrBluetoothOff
	}
	opts.AllowDuplicates = opts.AllowDuplicates || allowDuplicates
	return b.scanner.Scan(serviceUUIDs, time.Duration(seconds)*time.Second, opts)
}

// StopScan ends discovery.
func (b *Bridge) StopScan() error {
	return b.scanner.StopScan()
}

// IsScanning reports whether a scan is active.
func (b *Bridge) IsScanning() bool {
	return b.scanner.IsScanning()
}

// ----------------------------
// Connection
// ----------------------------

// Connect connects to id, creating its session when needed, and returns
// once the link reports Connected.
func (b *Bridge) Connect(ctx context.Context, id string, opts ConnectOptions) error {
	s, err := b.registry.RetrieveOrCreate(id)
	if err != nil {
		return err
	}
	timeout := b.opts.ConnectTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if err := s.ConnectAndWait(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.ID(), err)
	}
	return nil
}

// Disconnect disconnects id. With force the session is also dropped from
// the registry and its link released.
func (b *Bridge) Disconnect(id string, force bool) error {
	s, err := b.peripheral(id)
	if err != nil {
		return err
	}
	if err := s.Disconnect(); err != nil {
		return err
	}
	if force {
		return b.registry.Remove(s.ID())
	}
	return nil
}

// IsPeripheralConnected reports whether id has a connected session.
func (b *Bridge) IsPeripheralConnected(id string) bool {
	s, ok := b.registry.Get(id)
	return ok && s.IsConnected()
}

// RemovePeripheral forgets a disconnected peripheral.
func (b *Bridge) RemovePeripheral(id string) error {
	return b.registry.Remove(id)
}

// ----------------------------
// Bonding
// ----------------------------

// CreateBond bonds with id and returns once the bond is established or refused.
// A non-empty pin is submitted automatically when the platform asks for one.
func (b *Bridge) CreateBond(ctx context.Context, id, pin string) error {
	return b.bonds.CreateBond(ctx, id, pin)
}

// RemoveBond forgets the bond with id.
func (b *Bridge) RemoveBond(id string) error {
	return b.bonds.RemoveBond(id)
}

// ----------------------------
// GATT
// ----------------------------

// RetrieveServices connects when needed, discovers services and returns them
// in the host result shape. A non-empty serviceUUIDs limits the result.
func (b *Bridge) RetrieveServices(ctx context.Context, id string, serviceUUIDs []string) (*ServicesResult, error) {
	s, err := b.registry.RetrieveOrCreate(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.ConnectTimeout+b.opts.OperationTimeout)
	defer cancel()

	services, err := s.RetrieveServices(ctx, serviceUUIDs)
	if err != nil {
		return nil, err
	}
	return NewServicesResult(s.Snapshot(), services), nil
}

// Read reads a characteristic.
func (b *Bridge) Read(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	s, err := b.peripheral(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.Read(ctx, service, characteristic)
}

// Write writes data with response, in chunks of at most maxByteSize bytes
// (the configured chunk size when maxByteSize <= 0).
func (b *Bridge) Write(ctx context.Context, id, service, characteristic string, data []byte, maxByteSize int) (chunk.Result, error) {
	return b.write(ctx, id, service, characteristic, data, maxByteSize, true)
}

// WriteWithoutResponse writes data without response, chunked like Write.
func (b *Bridge) WriteWithoutResponse(ctx context.Context, id, service, characteristic string, data []byte, maxByteSize int) (chunk.Result, error) {
	return b.write(ctx, id, service, characteristic, data, maxByteSize, false)
}

func (b *Bridge) write(ctx context.Context, id, service, characteristic string, data []byte, maxByteSize int, withResponse bool) (chunk.Result, error) {
	s, err := b.peripheral(id)
	if err != nil {
		return chunk.Result{}, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.Write(ctx, service, characteristic, data, maxByteSize, withResponse)
}

// ReadDescriptor reads a descriptor.
func (b *Bridge) ReadDescriptor(ctx context.Context, id, service, characteristic, descriptor string) ([]byte, error) {
	s, err := b.peripheral(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.ReadDescriptor(ctx, service, characteristic, descriptor)
}

// WriteDescriptor writes a descriptor.
func (b *Bridge) WriteDescriptor(ctx context.Context, id, service, characteristic, descriptor string, data []byte) error {
	s, err := b.peripheral(id)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.WriteDescriptor(ctx, service, characteristic, descriptor, data)
}

// StartNotification subscribes to a characteristic; values arrive as update-value events.
func (b *Bridge) StartNotification(ctx context.Context, id, service, characteristic string) error {
	s, err := b.peripheral(id)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.StartNotification(ctx, service, characteristic)
}

// StopNotification unsubscribes from a characteristic.
func (b *Bridge) StopNotification(ctx context.Context, id, service, characteristic string) error {
	s, err := b.peripheral(id)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.StopNotification(ctx, service, characteristic)
}

// RequestMTU forwards an MTU request and returns the requested value.
func (b *Bridge) RequestMTU(ctx context.Context, id string, mtu int) (int, error) {
	s, err := b.peripheral(id)
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.RequestMTU(ctx, mtu)
}

// ReadRSSI reads the signal strength of a connected peripheral.
func (b *Bridge) ReadRSSI(ctx context.Context, id string) (int, error) {
	s, err := b.peripheral(id)
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()
	return s.ReadRSSI(ctx)
}

// ----------------------------
// Listings
// ----------------------------

// GetDiscoveredPeripherals lists every known peripheral.
func (b *Bridge) GetDiscoveredPeripherals() []events.Peripheral {
	sessions := b.registry.Sessions()
	out := make([]events.Peripheral, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// GetConnectedPeripherals lists connected sessions plus devices the platform
// reports as connected through other clients.
func (b *Bridge) GetConnectedPeripherals() ([]events.Peripheral, error) {
	seen := make(map[string]bool)
	var out []events.Peripheral
	for _, s := range b.registry.Sessions() {
		if s.IsConnected() {
			seen[s.ID()] = true
			out = append(out, s.Snapshot())
		}
	}

	ids, err := b.transport.ConnectedDevices()
	if err != nil {
		return nil, device.WrapTransportError("connected devices", device.NormalizeError(err))
	}
	for _, id := range ids {
		id = device.NormalizeID(id)
		if !seen[id] {
			seen[id] = true
			out = append(out, b.snapshot(id))
		}
	}
	if out == nil {
		out = []events.Peripheral{}
	}
	return out, nil
}

// GetBondedPeripherals lists the devices bonded with this adapter.
func (b *Bridge) GetBondedPeripherals() ([]events.Peripheral, error) {
	ids, err := b.transport.BondedDevices()
	if err != nil {
		return nil, device.WrapTransportError("bonded devices", device.NormalizeError(err))
	}
	out := make([]events.Peripheral, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.snapshot(device.NormalizeID(id)))
	}
	return out, nil
}

// snapshot describes id from its session when known, without creating one.
func (b *Bridge) snapshot(id string) events.Peripheral {
	if s, ok := b.registry.Get(id); ok {
		return s.Snapshot()
	}
	return events.Peripheral{ID: id, Advertising: events.Advertising{RawData: events.NewRawData(nil)}}
}
