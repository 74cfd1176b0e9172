//go:build test

package testutils

import (
	"sync"

	"github.com/srg/blemgr/internal/device"
)

// ScanCall records one StartScan call
type ScanCall struct {
	Filters []device.ScanFilter
	Options device.ResolvedScanOptions
}

// PinCall records one SetPinCode call
type PinCall struct {
	ID  string
	Pin string
}

// FakeTransport is a scriptable in-memory device.Transport. Links are created
// on Open (configured by LinkSetup when set) and kept for inspection.
type FakeTransport struct {
	mu       sync.Mutex
	listener device.TransportListener
	links    map[string]*FakeLink

	// LinkSetup is applied to every link created by Open
	LinkSetup func(l *FakeLink)
	// SharedLinks makes Open return the existing link for an id, like go-ble
	SharedLinks bool

	State        device.AdapterState
	OpenErr      error
	StartScanErr error
	StopScanErr  error
	PairErr      error
	PinErr       error
	Bonds        map[string]device.BondState
	Bonded       []string
	Connected    []string

	opens        []string
	scans        []ScanCall
	stopScans    int
	pairs        []string
	pins         []PinCall
	removedBonds []string
}

// NewFakeTransport creates a powered-on transport with no devices.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		links: make(map[string]*FakeLink),
		State: device.AdapterOn,
		Bonds: make(map[string]device.BondState),
	}
}

func (t *FakeTransport) SetListener(l device.TransportListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *FakeTransport) currentListener() device.TransportListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

func (t *FakeTransport) Open(id string) (device.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens = append(t.opens, id)
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if l, ok := t.links[id]; ok && t.SharedLinks {
		return l, nil
	}
	l := NewFakeLink(id)
	if t.LinkSetup != nil {
		t.LinkSetup(l)
	}
	t.links[id] = l
	return l, nil
}

func (t *FakeTransport) StartScan(filters []device.ScanFilter, opts device.ResolvedScanOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scans = append(t.scans, ScanCall{Filters: filters, Options: opts})
	return t.StartScanErr
}

func (t *FakeTransport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopScans++
	return t.StopScanErr
}

func (t *FakeTransport) AdapterState() device.AdapterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

func (t *FakeTransport) Pair(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairs = append(t.pairs, id)
	return t.PairErr
}

func (t *FakeTransport) SetPinCode(id, pin string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pins = append(t.pins, PinCall{ID: id, Pin: pin})
	return t.PinErr
}

func (t *FakeTransport) BondState(id string) device.BondState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Bonds[id]
}

func (t *FakeTransport) BondedDevices() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.Bonded...), nil
}

func (t *FakeTransport) ConnectedDevices() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.Connected...), nil
}

// RemoveBond implements device.BondRemover.
func (t *FakeTransport) RemoveBond(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removedBonds = append(t.removedBonds, id)
	delete(t.Bonds, id)
	return nil
}

// ----------------------------
// Event injection
// ----------------------------

func (t *FakeTransport) EmitScanResult(r device.ScanResult) {
	if l := t.currentListener(); l != nil {
		l.ScanResult(r)
	}
}

func (t *FakeTransport) EmitScanFailed(err error) {
	if l := t.currentListener(); l != nil {
		l.ScanFailed(err)
	}
}

func (t *FakeTransport) EmitBondState(id string, state device.BondState) {
	if l := t.currentListener(); l != nil {
		l.BondStateChanged(id, state)
	}
}

func (t *FakeTransport) EmitPinRequired(id string) {
	if l := t.currentListener(); l != nil {
		l.PinRequired(id)
	}
}

// EmitAdapterState updates State and notifies the listener.
func (t *FakeTransport) EmitAdapterState(state device.AdapterState) {
	t.mu.Lock()
	t.State = state
	t.mu.Unlock()
	if l := t.currentListener(); l != nil {
		l.AdapterStateChanged(state)
	}
}

// ----------------------------
// Recorded calls
// ----------------------------

// Link returns the most recent link opened for id.
func (t *FakeTransport) Link(id string) *FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[id]
}

func (t *FakeTransport) Opens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.opens...)
}

func (t *FakeTransport) Scans() []ScanCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ScanCall(nil), t.scans...)
}

func (t *FakeTransport) StopScanCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopScans
}

func (t *FakeTransport) Pairs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pairs...)
}

func (t *FakeTransport) Pins() []PinCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PinCall(nil), t.pins...)
}

func (t *FakeTransport) RemovedBonds() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.removedBonds...)
}

// SetBondState changes the state returned by BondState without emitting an event.
func (t *FakeTransport) SetBondState(id string, state device.BondState) {
	t.mu.Lock()
	t.Bonds[id] = state
	t.mu.Unlock()
}
