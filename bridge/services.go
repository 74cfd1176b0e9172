package bridge

import (
	"encoding/base64"

	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/gattcache"
)

// ServiceEntry is one service in a RetrieveServices result
type ServiceEntry struct {
	UUID string `json:"uuid"`
}

// DescriptorEntry is one descriptor; Value is base64 of the last known value
type DescriptorEntry struct {
	UUID  string `json:"uuid"`
	Value string `json:"value"`
}

// CharacteristicEntry is one characteristic. Properties maps each supported
// property name to itself, e.g. {"Read": "Read", "Notify": "Notify"}.
type CharacteristicEntry struct {
	Characteristic string            `json:"characteristic"`
	Service        string            `json:"service"`
	Descriptors    []DescriptorEntry `json:"descriptors"`
	Properties     map[string]string `json:"properties"`
}

// ServicesResult is the host shape of a service discovery, alongside the
// peripheral snapshot.
type ServicesResult struct {
	events.Peripheral
	ServiceUUIDs    []string              `json:"serviceUUIDs"`
	Services        []ServiceEntry        `json:"services"`
	Characteristics []CharacteristicEntry `json:"characteristics"`
}

// NewServicesResult flattens cached services into the host result shape.
func NewServicesResult(p events.Peripheral, services []*gattcache.Service) *ServicesResult {
	res := &ServicesResult{
		Peripheral:      p,
		ServiceUUIDs:    make([]string, 0, len(services)),
		Services:        make([]ServiceEntry, 0, len(services)),
		Characteristics: []CharacteristicEntry{},
	}
	for _, svc := range services {
		res.ServiceUUIDs = append(res.ServiceUUIDs, svc.UUID)
		res.Services = append(res.Services, ServiceEntry{UUID: svc.UUID})

		for _, char := range svc.Characteristics() {
			entry := CharacteristicEntry{
				Characteristic: char.UUID,
				Service:        svc.UUID,
				Descriptors:    []DescriptorEntry{},
				Properties:     char.Properties.NameMap(),
			}
			for _, d := range char.Descriptors() {
				entry.Descriptors = append(entry.Descriptors, DescriptorEntry{
					UUID:  d.UUID,
					Value: base64.StdEncoding.EncodeToString(d.Value),
				})
			}
			res.Characteristics = append(res.Characteristics, entry)
		}
	}
	return res
}
