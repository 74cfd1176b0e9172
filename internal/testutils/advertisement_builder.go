//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blemgr/internal/device"
)

// AdvertisementBuilder builds advertisements for scan tests, either as
// transport scan results or as go-ble advertisements.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		serviceData: make(map[string][]byte),
		connectable: true,
	}
}

// WithName sets the local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithServiceData adds service data for a UUID.
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

// WithTxPower sets the advertised transmit power.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

// WithConnectable sets the connectable flag.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON sets the fields present in the JSON document; absent fields keep their values.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	for k, v := range data.ServiceData {
		b.WithServiceData(k, v)
	}
	if data.TxPower != nil {
		b.WithTxPower(*data.TxPower)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// BuildResult returns the advertisement as a transport scan result.
func (b *AdvertisementBuilder) BuildResult() device.ScanResult {
	return device.ScanResult{
		ID:          b.address,
		Name:        b.name,
		RSSI:        b.rssi,
		Data:        b.manufData,
		Services:    append([]string(nil), b.services...),
		Connectable: b.connectable,
	}
}

// Build returns the advertisement as a go-ble advertisement.
func (b *AdvertisementBuilder) Build() blelib.Advertisement {
	adv := &FakeAdvertisement{
		name:        b.name,
		addr:        blelib.NewAddr(b.address),
		rssi:        b.rssi,
		manufData:   b.manufData,
		txPower:     b.txPower,
		connectable: b.connectable,
	}
	for _, s := range b.services {
		adv.services = append(adv.services, blelib.MustParse(s))
	}
	for uuid, data := range b.serviceData {
		adv.serviceData = append(adv.serviceData, blelib.ServiceData{UUID: blelib.MustParse(uuid), Data: data})
	}
	return adv
}

// FakeAdvertisement is a static blelib.Advertisement
type FakeAdvertisement struct {
	name        string
	addr        blelib.Addr
	rssi        int
	services    []blelib.UUID
	manufData   []byte
	serviceData []blelib.ServiceData
	txPower     int
	connectable bool
}

func (a *FakeAdvertisement) LocalName() string                  { return a.name }
func (a *FakeAdvertisement) ManufacturerData() []byte           { return a.manufData }
func (a *FakeAdvertisement) ServiceData() []blelib.ServiceData  { return a.serviceData }
func (a *FakeAdvertisement) Services() []blelib.UUID            { return a.services }
func (a *FakeAdvertisement) OverflowService() []blelib.UUID     { return nil }
func (a *FakeAdvertisement) TxPowerLevel() int                  { return a.txPower }
func (a *FakeAdvertisement) Connectable() bool                  { return a.connectable }
func (a *FakeAdvertisement) SolicitedService() []blelib.UUID    { return nil }
func (a *FakeAdvertisement) RSSI() int                          { return a.rssi }
func (a *FakeAdvertisement) Addr() blelib.Addr                  { return a.addr }
