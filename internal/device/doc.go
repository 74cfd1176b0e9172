// Package device holds the data model shared by the peripheral manager:
// peripheral identifiers, connection/adapter/bond states, characteristic
// property bits, the error taxonomy, and the Transport port that platform
// BLE stacks implement.
//
// Nothing in this package talks to a radio. Concrete transports live in
// subpackages (see go-ble) and are handed to the registry, scanner and bond
// coordinator through the Transport and Link interfaces.
package device
