package device

// ConnectionState is the lifecycle state of a peripheral session
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// LinkState is the profile connection state reported by a transport link.
// Its integer value is reported as the status of connect/disconnect events.
type LinkState int

const (
	LinkDisconnected  LinkState = 0
	LinkConnecting    LinkState = 1
	LinkConnected     LinkState = 2
	LinkDisconnecting LinkState = 3
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// AdapterState is the power state of the local BLE adapter
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterOff
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
	AdapterUnsupported
)

// String returns the state name reported to the host in state-changed events.
func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turning_on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning_off"
	case AdapterUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// BondState is the pairing state of a remote device
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
	BondFailed
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	case BondFailed:
		return "failed"
	default:
		return "unknown"
	}
}
