// Package scanner runs BLE discovery on top of the transport and feeds the
// peripheral registry with what it sees.
package scanner

import (
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/registry"
)

// Scanner owns the scanning flag and the optional scan timeout. At most one
// scan is active; starting a new one replaces the previous timeout.
type Scanner struct {
	mu         sync.Mutex
	scanning   bool
	timer      *time.Timer
	generation uint64

	transport device.Transport
	registry  *registry.Registry
	sink      events.Sink
	logger    *logrus.Logger
}

// New creates an idle scanner.
func New(transport device.Transport, reg *registry.Registry, sink events.Sink, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Scanner{
		transport: transport,
		registry:  reg,
		sink:      sink,
		logger:    logger,
	}
}

// BuildFilters creates one filter per service UUID (or a single match-all
// filter) plus one filter per exact advertising name.
func BuildFilters(serviceUUIDs []string, names []string) []device.ScanFilter {
	filters := make([]device.ScanFilter, 0, len(serviceUUIDs)+len(names)+1)
	if len(serviceUUIDs) == 0 {
		filters = append(filters, device.ScanFilter{})
	}
	for _, u := range serviceUUIDs {
		filters = append(filters, device.ScanFilter{ServiceUUID: device.NormalizeUUID(u)})
	}
	for _, n := range names {
		filters = append(filters, device.ScanFilter{Name: n})
	}
	return filters
}

// ResolveOptions applies defaults to caller options. Opportunistic scanning
// has no duty mode of its own and runs at low power.
func ResolveOptions(opts device.ScanOptions) device.ResolvedScanOptions {
	resolved := device.ResolvedScanOptions{}
	defaults.SetDefaults(&resolved)

	switch opts.ScanMode {
	case device.ScanModeBalanced, device.ScanModeLowLatency:
		resolved.DutyMode = opts.ScanMode
	default:
		resolved.DutyMode = device.ScanModeLowPower
	}
	if opts.MatchMode != 0 {
		resolved.MatchMode = opts.MatchMode
	}
	if opts.ReportDelay > 0 {
		resolved.ReportDelay = opts.ReportDelay
	}
	resolved.AllowDuplicates = opts.AllowDuplicates
	return resolved
}

// Scan starts discovery. With duration > 0 the scan stops by itself and
// reports stop-scan with the timeout status. A start failure is reported
// both as a stop-scan event carrying the platform code and as the returned error.
func (s *Scanner) Scan(serviceUUIDs []string, duration time.Duration, opts device.ScanOptions) error {
	filters := BuildFilters(serviceUUIDs, opts.ExactAdvertisingName)
	resolved := ResolveOptions(opts)

	s.logger.WithFields(logrus.Fields{
		"services": serviceUUIDs,
		"duration": duration,
		"mode":     resolved.DutyMode.String(),
	}).Info("Starting BLE scan...")

	if err := s.transport.StartScan(filters, resolved); err != nil {
		err = device.WrapTransportError("start scan", device.NormalizeError(err))
		status := device.ErrorCode(err)
		if status == 0 {
			status = events.StopScanStatusInternalError
		}
		s.logger.WithFields(logrus.Fields{
			"status": status,
			"error":  err,
		}).Error("Scan failed to start")
		s.sink.Emit(events.StopScan{Status: status})
		return err
	}

	s.mu.Lock()
	s.scanning = true
	s.generation++
	gen := s.generation
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if duration > 0 {
		s.timer = time.AfterFunc(duration, func() { s.expire(gen) })
	}
	s.mu.Unlock()
	return nil
}

func (s *Scanner) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.scanning = false
	s.mu.Unlock()

	if s.transport.AdapterState() == device.AdapterOn {
		if err := s.transport.StopScan(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop scan on timeout")
		}
	}
	s.logger.Info("BLE scan timed out")
	s.sink.Emit(events.StopScan{Status: events.StopScanStatusTimeout})
}

// StopScan ends discovery and cancels a pending timeout.
func (s *Scanner) StopScan() error {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()

	if err := s.transport.StopScan(); err != nil {
		return device.WrapTransportError("stop scan", device.NormalizeError(err))
	}
	s.logger.Info("BLE scan stopped")
	s.sink.Emit(events.StopScan{Status: events.StopScanStatusSuccess})
	return nil
}

func (s *Scanner) cancelLocked() {
	s.generation++
	s.scanning = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// IsScanning reports whether a scan is active.
func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// AdapterOff forgets the active scan. The platform already stopped it.
func (s *Scanner) AdapterOff() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

// HandleScanFailure ends a scan the platform stopped on its own and reports
// stop-scan with the platform code. Nothing is reported when no scan is
// active, e.g. after the adapter went off.
func (s *Scanner) HandleScanFailure(err error) {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.mu.Unlock()

	status := device.ErrorCode(err)
	if status == 0 {
		status = events.StopScanStatusInternalError
	}
	s.logger.WithFields(logrus.Fields{
		"status": status,
		"error":  err,
	}).Error("BLE scan failed")
	s.sink.Emit(events.StopScan{Status: status})
}

// HandleScanResult records a transport scan result and emits discover-peripheral.
func (s *Scanner) HandleScanResult(result device.ScanResult) {
	sess, _, err := s.registry.Discover(result)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"peripheral": result.ID,
			"error":      err,
		}).Warn("Failed to record scan result")
		return
	}
	s.sink.Emit(events.DiscoverPeripheral{Peripheral: sess.Snapshot()})
}
