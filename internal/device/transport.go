package device

import (
	"context"
	"time"
)

// ----------------------------
// Scan model
// ----------------------------

// ScanMode is the requested scan duty mode
type ScanMode int

const (
	ScanModeOpportunistic ScanMode = -1
	ScanModeLowPower      ScanMode = 0
	ScanModeBalanced      ScanMode = 1
	ScanModeLowLatency    ScanMode = 2
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeOpportunistic:
		return "opportunistic"
	case ScanModeLowPower:
		return "low-power"
	case ScanModeBalanced:
		return "balanced"
	case ScanModeLowLatency:
		return "low-latency"
	default:
		return "unknown"
	}
}

// MatchMode controls how aggressively the controller reports matches.
// The zero value means "not set".
type MatchMode int

const (
	MatchModeAggressive MatchMode = 1
	MatchModeSticky     MatchMode = 2
)

// ScanFilter restricts scan results to one service UUID and/or one exact
// advertised name. An empty filter matches everything.
type ScanFilter struct {
	ServiceUUID string
	Name        string
}

// Matches reports whether a scan result satisfies the filter.
func (f ScanFilter) Matches(r ScanResult) bool {
	if f.Name != "" && f.Name != r.Name {
		return false
	}
	if f.ServiceUUID == "" {
		return true
	}
	want := NormalizeUUID(f.ServiceUUID)
	for _, s := range r.Services {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

// ScanOptions are the caller-supplied scan options. Zero values mean "use the default".
type ScanOptions struct {
	ScanMode             ScanMode
	MatchMode            MatchMode
	ReportDelay          time.Duration
	ExactAdvertisingName []string
	AllowDuplicates      bool
}

// ResolvedScanOptions are the options handed to the transport after defaults are applied.
type ResolvedScanOptions struct {
	DutyMode        ScanMode      `default:"0"`
	MatchMode       MatchMode     `default:"1"`
	ReportDelay     time.Duration `default:"500ms"`
	AllowDuplicates bool          `default:"false"`
}

// ScanResult is one advertisement report from the transport
type ScanResult struct {
	ID          string
	Name        string
	RSSI        int
	Data        []byte
	Services    []string
	Connectable bool
}

// ----------------------------
// GATT model
// ----------------------------

// GattDescriptor is a discovered descriptor with its last known value
type GattDescriptor struct {
	UUID  string
	Value []byte
}

// GattCharacteristic is a discovered characteristic
type GattCharacteristic struct {
	UUID        string
	Properties  Property
	Descriptors []GattDescriptor
}

// GattService is a discovered primary service
type GattService struct {
	UUID            string
	Characteristics []GattCharacteristic
}

// ----------------------------
// Transport port
// ----------------------------

// LinkListener receives per-device events from a Link.
// A listener is registered once, right after the link is opened.
type LinkListener interface {
	ConnectionStateChanged(id string, state LinkState)
	CharacteristicChanged(id, service, characteristic string, value []byte)
}

// TransportListener receives adapter-wide events. ScanFailed reports a
// running scan the platform ended on its own; failures to start are returned
// by StartScan instead.
type TransportListener interface {
	ScanResult(result ScanResult)
	ScanFailed(err error)
	BondStateChanged(id string, state BondState)
	PinRequired(id string)
	AdapterStateChanged(state AdapterState)
}

// Link is a transport handle for one remote device. Connect and Disconnect
// only initiate the transition; completion is reported through LinkListener.
type Link interface {
	ID() string
	Connect() error
	Disconnect() error
	DiscoverServices(ctx context.Context) ([]GattService, error)
	ReadCharacteristic(ctx context.Context, service, characteristic string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error
	ReadDescriptor(ctx context.Context, service, characteristic, descriptor string) ([]byte, error)
	WriteDescriptor(ctx context.Context, service, characteristic, descriptor string, data []byte) error
	SetNotification(ctx context.Context, service, characteristic string, enable, indicate bool) error
	RequestMTU(ctx context.Context, mtu int) (int, error)
	ReadRSSI(ctx context.Context) (int, error)
	DeviceName(ctx context.Context) (string, error)
	SetListener(l LinkListener)
	Close() error
}

// Transport is the platform BLE adapter
type Transport interface {
	Open(id string) (Link, error)
	StartScan(filters []ScanFilter, opts ResolvedScanOptions) error
	StopScan() error
	AdapterState() AdapterState
	Pair(id string) error
	SetPinCode(id, pin string) error
	BondState(id string) BondState
	BondedDevices() ([]string, error)
	ConnectedDevices() ([]string, error)
	SetListener(l TransportListener)
}

// BondRemover is implemented by transports that can forget a bond
type BondRemover interface {
	RemoveBond(id string) error
}

// AdapterEnabler is implemented by transports that can power the adapter on
type AdapterEnabler interface {
	Enable() error
}
