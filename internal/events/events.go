// Package events defines the notifications the peripheral manager pushes to
// its host and the sinks that deliver them.
package events

import (
	"encoding/base64"

	"github.com/srg/blemgr/internal/device"
)

// Event names as seen by the host
const (
	NameStateChanged         = "state-changed"
	NameDiscoverPeripheral   = "discover-peripheral"
	NameConnectPeripheral    = "connect-peripheral"
	NameDisconnectPeripheral = "disconnect-peripheral"
	NameStopScan             = "stop-scan"
	NamePeripheralDidBond    = "peripheral-did-bond"
	NameUpdateValue          = "update-value"
)

// Event is a notification delivered to a Sink
type Event interface {
	Name() string
}

// Sink receives events. Emit must not block for long; callers hold no locks while emitting.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard is a Sink that drops every event
var Discard Sink = SinkFunc(func(Event) {})

// ----------------------------
// Payloads
// ----------------------------

// RawData is the advertising payload in the host's ArrayBuffer envelope
type RawData struct {
	CDVType string `json:"CDVType"`
	Data    string `json:"data"`
	Bytes   []int  `json:"bytes"`
}

// Advertising describes the last advertisement seen for a peripheral
type Advertising struct {
	IsConnectable bool    `json:"isConnectable"`
	LocalName     string  `json:"localName"`
	RawData       RawData `json:"rawData"`
}

// Peripheral is the snapshot of a peripheral carried by discovery, bond and listing payloads
type Peripheral struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	RSSI        int         `json:"rssi"`
	Advertising Advertising `json:"advertising"`
}

// NewRawData wraps advertising bytes in the ArrayBuffer envelope.
func NewRawData(data []byte) RawData {
	bytes := make([]int, len(data))
	for i, b := range data {
		bytes[i] = int(b)
	}
	return RawData{
		CDVType: "ArrayBuffer",
		Data:    base64.StdEncoding.EncodeToString(data),
		Bytes:   bytes,
	}
}

// StateChanged reports an adapter power transition
type StateChanged struct {
	State string `json:"state"`
}

func (StateChanged) Name() string { return NameStateChanged }

// NewStateChanged builds the event for an adapter state.
func NewStateChanged(state device.AdapterState) StateChanged {
	return StateChanged{State: state.String()}
}

// DiscoverPeripheral is emitted for every scan result, new or repeated
type DiscoverPeripheral struct {
	Peripheral
}

func (DiscoverPeripheral) Name() string { return NameDiscoverPeripheral }

// ConnectPeripheral is emitted when a link reports Connected
type ConnectPeripheral struct {
	Peripheral string `json:"peripheral"`
	Status     int    `json:"status"`
}

func (ConnectPeripheral) Name() string { return NameConnectPeripheral }

// DisconnectPeripheral is emitted when a link reports Disconnected
type DisconnectPeripheral struct {
	Peripheral string `json:"peripheral"`
	Status     int    `json:"status"`
}

func (DisconnectPeripheral) Name() string { return NameDisconnectPeripheral }

// Stop-scan status values. Scan start failures carry the platform code, or
// StopScanStatusInternalError when the platform gave none.
const (
	StopScanStatusSuccess       = 0
	StopScanStatusInternalError = 3
	StopScanStatusTimeout       = 10
)

// StopScan is emitted when a scan ends
type StopScan struct {
	Status int `json:"status"`
}

func (StopScan) Name() string { return NameStopScan }

// PeripheralDidBond is emitted when a device reaches the bonded state
type PeripheralDidBond struct {
	Peripheral
}

func (PeripheralDidBond) Name() string { return NamePeripheralDidBond }

// UpdateValue carries a characteristic notification or indication
type UpdateValue struct {
	Peripheral     string `json:"peripheral"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	Value          []int  `json:"value"`
}

func (UpdateValue) Name() string { return NameUpdateValue }

// NewUpdateValue builds the event, converting the value to the host's byte array form.
func NewUpdateValue(peripheral, service, characteristic string, value []byte) UpdateValue {
	v := make([]int, len(value))
	for i, b := range value {
		v[i] = int(b)
	}
	return UpdateValue{Peripheral: peripheral, Service: service, Characteristic: characteristic, Value: v}
}
