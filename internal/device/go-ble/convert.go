package goble

import (
	ble "github.com/go-ble/ble"
	"github.com/srg/blemgr/internal/device"
)

// ScanResultFromAdvertisement converts a go-ble advertisement report.
func ScanResultFromAdvertisement(adv ble.Advertisement) device.ScanResult {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	return device.ScanResult{
		ID:          device.NormalizeID(adv.Addr().String()),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Data:        append([]byte(nil), adv.ManufacturerData()...),
		Services:    services,
		Connectable: adv.Connectable(),
	}
}

// servicesFromProfile converts a discovered go-ble profile. Descriptor
// values are the ones cached by discovery, nil when the stack did not read them.
func servicesFromProfile(p *ble.Profile) []device.GattService {
	if p == nil {
		return nil
	}
	services := make([]device.GattService, 0, len(p.Services))
	for _, s := range p.Services {
		svc := device.GattService{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			char := device.GattCharacteristic{
				UUID:       device.NormalizeUUID(c.UUID.String()),
				Properties: device.Property(c.Property),
			}
			for _, d := range c.Descriptors {
				char.Descriptors = append(char.Descriptors, device.GattDescriptor{
					UUID:  device.NormalizeUUID(d.UUID.String()),
					Value: append([]byte(nil), d.Value...),
				})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		services = append(services, svc)
	}
	return services
}

func findCharacteristic(p *ble.Profile, service, characteristic string) (*ble.Characteristic, error) {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)
	if p == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svcUUID}}
	}
	for _, s := range p.Services {
		if device.NormalizeUUID(s.UUID.String()) != svcUUID {
			continue
		}
		for _, c := range s.Characteristics {
			if device.NormalizeUUID(c.UUID.String()) == charUUID {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{svcUUID, charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svcUUID}}
}

func findDescriptor(p *ble.Profile, service, characteristic, descriptor string) (*ble.Descriptor, error) {
	c, err := findCharacteristic(p, service, characteristic)
	if err != nil {
		return nil, err
	}
	descUUID := device.NormalizeUUID(descriptor)
	for _, d := range c.Descriptors {
		if device.NormalizeUUID(d.UUID.String()) == descUUID {
			return d, nil
		}
	}
	return nil, &device.NotFoundError{
		Resource: "descriptor",
		UUIDs:    []string{device.NormalizeUUID(service), device.NormalizeUUID(characteristic), descUUID},
	}
}
