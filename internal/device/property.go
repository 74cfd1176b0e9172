package device

// Property is the GATT characteristic properties bitmask.
// Bit values follow the Bluetooth Core specification (Vol 3, Part G, 3.3.1.1).
type Property uint8

const (
	PropBroadcast                 Property = 0x01
	PropRead                      Property = 0x02
	PropWriteWithoutResponse      Property = 0x04
	PropWrite                     Property = 0x08
	PropNotify                    Property = 0x10
	PropIndicate                  Property = 0x20
	PropAuthenticatedSignedWrites Property = 0x40
	PropExtendedProperties        Property = 0x80
)

var propertyNames = []struct {
	bit  Property
	name string
}{
	{PropBroadcast, "Broadcast"},
	{PropRead, "Read"},
	{PropWriteWithoutResponse, "WriteWithoutResponse"},
	{PropWrite, "Write"},
	{PropNotify, "Notify"},
	{PropIndicate, "Indicate"},
	{PropAuthenticatedSignedWrites, "AuthenticatedSignedWrites"},
	{PropExtendedProperties, "ExtendedProperties"},
}

// Has reports whether every bit in mask is set.
func (p Property) Has(mask Property) bool {
	return p&mask == mask
}

// Any reports whether at least one bit in mask is set.
func (p Property) Any(mask Property) bool {
	return p&mask != 0
}

// Names returns the names of the set bits in ascending bit order.
func (p Property) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// NameMap returns the set bits as a name->name map, the shape hosts expect
// for characteristic properties.
func (p Property) NameMap() map[string]string {
	m := make(map[string]string)
	for _, name := range p.Names() {
		m[name] = name
	}
	return m
}
