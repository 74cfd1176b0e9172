package goble

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/groutine"
)

// DefaultScanStartGrace is how long StartScan waits for the platform to reject a scan
const DefaultScanStartGrace = 50 * time.Millisecond

// Transport is a device.Transport over go-ble.
//
// go-ble has no pairing API: Pair and SetPinCode report device.ErrUnsupported
// and every device is reported as not bonded.
type Transport struct {
	central Central
	logger  *logrus.Logger
	links   *hashmap.Map[string, *Link]

	// ScanStartGrace bounds the wait for an immediate scan failure
	ScanStartGrace time.Duration

	mu       sync.Mutex
	listener device.TransportListener
	state    device.AdapterState
	scan     *scanRun
}

// scanRun is one central.Scan call. Failures before the start grace elapses
// go to StartScan, later ones to the listener.
type scanRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	failed  chan error
}

// NewTransport creates a transport on top of central. The adapter is
// assumed powered until the platform reports otherwise.
func NewTransport(central Central, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		central:        central,
		logger:         logger,
		links:          hashmap.New[string, *Link](),
		ScanStartGrace: DefaultScanStartGrace,
		state:          device.AdapterOn,
	}
}

// Open returns the link for id, creating it on first use.
func (t *Transport) Open(id string) (device.Link, error) {
	id = device.NormalizeID(id)
	l, _ := t.links.GetOrInsert(id, newLink(id, t))
	return l, nil
}

func (t *Transport) forget(l *Link) {
	if cur, ok := t.links.Get(l.id); ok && cur == l {
		t.links.Del(l.id)
	}
}

func (t *Transport) SetListener(l device.TransportListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *Transport) currentListener() device.TransportListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

func (t *Transport) AdapterState() device.AdapterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setAdapterState(state device.AdapterState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	listener := t.listener
	t.mu.Unlock()
	if changed && listener != nil {
		listener.AdapterStateChanged(state)
	}
}

// StartScan replaces any running scan. Results not matching at least one
// filter are dropped here since go-ble has no controller-side filtering.
func (t *Transport) StartScan(filters []device.ScanFilter, opts device.ResolvedScanOptions) error {
	if err := t.StopScan(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &scanRun{cancel: cancel, done: make(chan struct{}), failed: make(chan error, 1)}

	t.mu.Lock()
	t.scan = run
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"filters":          len(filters),
		"duty_mode":        opts.DutyMode.String(),
		"allow_duplicates": opts.AllowDuplicates,
	}).Debug("Starting BLE scan")

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer close(run.done)
		err := t.central.Scan(ctx, opts.AllowDuplicates, func(adv ble.Advertisement) {
			result := ScanResultFromAdvertisement(adv)
			if !matchesAny(filters, result) {
				return
			}
			if listener := t.currentListener(); listener != nil {
				listener.ScanResult(result)
			}
		})
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		err = NormalizeError(err)
		groutine.Entry(ctx, t.logger).WithField("error", err).Warn("BLE scan stopped")
		if errors.Is(err, device.ErrBluetoothOff) {
			t.setAdapterState(device.AdapterOff)
		}

		run.mu.Lock()
		if !run.started {
			run.failed <- err
			run.mu.Unlock()
			return
		}
		run.mu.Unlock()

		t.scanEnded(run)
		if listener := t.currentListener(); listener != nil {
			listener.ScanFailed(device.WrapTransportError("scan", err))
		}
	})

	select {
	case err := <-run.failed:
		cancel()
		return device.WrapTransportError("start scan", err)
	case <-time.After(t.ScanStartGrace):
	}

	run.mu.Lock()
	run.started = true
	run.mu.Unlock()
	select {
	case err := <-run.failed:
		cancel()
		return device.WrapTransportError("start scan", err)
	default:
		return nil
	}
}

// scanEnded forgets a scan that stopped by itself unless a newer one replaced it.
func (t *Transport) scanEnded(run *scanRun) {
	run.cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scan == run {
		t.scan = nil
	}
}

func matchesAny(filters []device.ScanFilter, r device.ScanResult) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(r) {
			return true
		}
	}
	return false
}

// StopScan cancels the running scan and waits for go-ble to return.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	run := t.scan
	t.scan = nil
	t.mu.Unlock()

	if run == nil {
		return nil
	}
	run.cancel()
	<-run.done
	t.logger.Debug("BLE scan stopped")
	return nil
}

func (t *Transport) Pair(_ string) error {
	return device.ErrUnsupported
}

func (t *Transport) SetPinCode(_, _ string) error {
	return device.ErrUnsupported
}

func (t *Transport) BondState(_ string) device.BondState {
	return device.BondNone
}

func (t *Transport) BondedDevices() ([]string, error) {
	return []string{}, nil
}

// ConnectedDevices lists the links this transport currently holds a connection for.
func (t *Transport) ConnectedDevices() ([]string, error) {
	ids := []string{}
	t.links.Range(func(id string, l *Link) bool {
		if _, _, err := l.connected(); err == nil {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids, nil
}
