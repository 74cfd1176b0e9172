//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blemgr/internal/device"
)

// DescriptorConfig describes a descriptor in a test profile
type DescriptorConfig struct {
	UUID  string `json:"uuid" yaml:"uuid"`
	Value []byte `json:"value,omitempty" yaml:"value,omitempty"`
}

// CharacteristicConfig describes a characteristic in a test profile
type CharacteristicConfig struct {
	UUID        string             `json:"uuid" yaml:"uuid"`
	Properties  string             `json:"properties,omitempty" yaml:"properties,omitempty"` // e.g. "read,write,notify"
	Descriptors []DescriptorConfig `json:"descriptors,omitempty" yaml:"descriptors,omitempty"`
}

// ServiceConfig describes a service in a test profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid" yaml:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
}

// ProfileConfig is the complete GATT profile of a fake peripheral
type ProfileConfig struct {
	Services []ServiceConfig `json:"services" yaml:"services"`
}

// ProfileBuilder builds GATT profiles for fake links and go-ble mocks
type ProfileBuilder struct {
	profile ProfileConfig
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{profile: ProfileConfig{Services: []ServiceConfig{}}}
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *ProfileBuilder) WithDescriptor(uuid string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	char := &svc.Characteristics[len(svc.Characteristics)-1]
	char.Descriptors = append(char.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// WithServices replaces the profile with already parsed service configs
func (b *ProfileBuilder) WithServices(services []ServiceConfig) *ProfileBuilder {
	b.profile.Services = append([]ServiceConfig(nil), services...)
	return b
}

// FromJSON replaces the profile with the JSON description
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config ProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// ParseProperties converts a comma-separated property list to a bitmask.
func ParseProperties(props string) device.Property {
	var p device.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response", "writenr":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		case "signed-write":
			p |= device.PropAuthenticatedSignedWrites
		case "extended":
			p |= device.PropExtendedProperties
		}
	}
	return p
}

// Build returns the profile as transport discovery results.
func (b *ProfileBuilder) Build() []device.GattService {
	services := make([]device.GattService, 0, len(b.profile.Services))
	for _, sc := range b.profile.Services {
		svc := device.GattService{UUID: sc.UUID}
		for _, cc := range sc.Characteristics {
			char := device.GattCharacteristic{UUID: cc.UUID, Properties: ParseProperties(cc.Properties)}
			for _, dc := range cc.Descriptors {
				char.Descriptors = append(char.Descriptors, device.GattDescriptor{UUID: dc.UUID, Value: dc.Value})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		services = append(services, svc)
	}
	return services
}

// BuildBLEProfile returns the profile as a go-ble profile, as DiscoverProfile would.
func (b *ProfileBuilder) BuildBLEProfile() *blelib.Profile {
	profile := &blelib.Profile{}
	for _, sc := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(sc.UUID)}
		for _, cc := range sc.Characteristics {
			char := &blelib.Characteristic{
				UUID:     blelib.MustParse(cc.UUID),
				Property: blelib.Property(ParseProperties(cc.Properties)),
			}
			for _, dc := range cc.Descriptors {
				char.Descriptors = append(char.Descriptors, &blelib.Descriptor{UUID: blelib.MustParse(dc.UUID), Value: dc.Value})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// SensorServices is the default profile used across tests: a battery
// service and a UART-style service with separate RX/TX characteristics.
func SensorServices() []device.GattService {
	return NewProfileBuilder().FromJSON(`{
		"services": [
			{
				"uuid": "180f",
				"characteristics": [
					{"uuid": "2a19", "properties": "read,notify", "descriptors": [{"uuid": "2902", "value": "AAA="}]}
				]
			},
			{
				"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
				"characteristics": [
					{"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,write-without-response"},
					{"uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "notify"}
				]
			}
		]
	}`).Build()
}
