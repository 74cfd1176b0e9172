// Package gattcache keeps the services, characteristics and descriptors
// discovered on a connected peripheral, in discovery order.
package gattcache

import (
	"sync"

	"github.com/srg/blemgr/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Descriptor is a cached descriptor and its last known value
type Descriptor struct {
	UUID  string
	Value []byte
}

// Characteristic is a cached characteristic
type Characteristic struct {
	UUID        string
	Service     string
	Properties  device.Property
	descriptors *orderedmap.OrderedMap[string, *Descriptor]
}

// Descriptors returns the characteristic's descriptors in discovery order.
func (c *Characteristic) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, c.descriptors.Len())
	for pair := c.descriptors.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Service is a cached primary service
type Service struct {
	UUID            string
	characteristics *orderedmap.OrderedMap[string, *Characteristic]
}

// Characteristics returns the service's characteristics in discovery order.
func (s *Service) Characteristics() []*Characteristic {
	out := make([]*Characteristic, 0, s.characteristics.Len())
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Cache maps service UUID -> Service. Keys are normalized UUIDs, the
// UUID strings kept on the values are the ones the transport reported.
type Cache struct {
	mu       sync.RWMutex
	services *orderedmap.OrderedMap[string, *Service]
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{services: orderedmap.New[string, *Service]()}
}

// Populate replaces the cache content with a discovery result and returns
// the cached services in order. Duplicate service UUIDs keep their first
// occurrence, as do duplicate characteristics within a service.
func (c *Cache) Populate(discovered []device.GattService) []*Service {
	services := orderedmap.New[string, *Service]()

	for _, gs := range discovered {
		key := device.NormalizeUUID(gs.UUID)
		if _, exists := services.Get(key); exists {
			continue
		}
		svc := &Service{
			UUID:            gs.UUID,
			characteristics: orderedmap.New[string, *Characteristic](),
		}
		for _, gc := range gs.Characteristics {
			charKey := device.NormalizeUUID(gc.UUID)
			if _, exists := svc.characteristics.Get(charKey); exists {
				continue
			}
			char := &Characteristic{
				UUID:        gc.UUID,
				Service:     gs.UUID,
				Properties:  gc.Properties,
				descriptors: orderedmap.New[string, *Descriptor](),
			}
			for _, gd := range gc.Descriptors {
				descKey := device.NormalizeUUID(gd.UUID)
				if _, exists := char.descriptors.Get(descKey); exists {
					continue
				}
				char.descriptors.Set(descKey, &Descriptor{UUID: gd.UUID, Value: gd.Value})
			}
			svc.characteristics.Set(charKey, char)
		}
		services.Set(key, svc)
	}

	c.mu.Lock()
	c.services = services
	c.mu.Unlock()

	return c.Services()
}

// Services returns every cached service in discovery order.
func (c *Cache) Services() []*Service {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Service, 0, c.services.Len())
	for pair := c.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Service looks up a service by UUID in any accepted format.
func (c *Cache) Service(uuid string) (*Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services.Get(device.NormalizeUUID(uuid))
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// Characteristic looks up a characteristic within a service.
func (c *Cache) Characteristic(service, uuid string) (*Characteristic, error) {
	svc, err := c.Service(service)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	char, ok := svc.characteristics.Get(device.NormalizeUUID(uuid))
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return char, nil
}

// CharacteristicWith looks up a characteristic that has at least one of the
// property bits in mask. capability names the operation for the error message.
func (c *Cache) CharacteristicWith(service, uuid string, mask device.Property, capability string) (*Characteristic, error) {
	char, err := c.Characteristic(service, uuid)
	if err != nil {
		return nil, err
	}
	if !char.Properties.Any(mask) {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}, Capability: capability}
	}
	return char, nil
}

// Descriptor looks up a descriptor within a characteristic.
func (c *Cache) Descriptor(service, characteristic, uuid string) (*Descriptor, error) {
	char, err := c.Characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	desc, ok := char.descriptors.Get(device.NormalizeUUID(uuid))
	if !ok {
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{service, characteristic, uuid}}
	}
	return desc, nil
}

// SetDescriptorValue records the last value read from or written to a descriptor.
func (c *Cache) SetDescriptorValue(service, characteristic, uuid string, value []byte) error {
	desc, err := c.Descriptor(service, characteristic, uuid)
	if err != nil {
		return err
	}
	c.mu.Lock()
	desc.Value = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached services.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services.Len()
}

// IsEmpty reports whether nothing is cached.
func (c *Cache) IsEmpty() bool {
	return c.Len() == 0
}

// Clear drops everything. Called whenever the peripheral disconnects or the adapter powers off.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.services = orderedmap.New[string, *Service]()
	c.mu.Unlock()
}
