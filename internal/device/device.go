package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource   string   // "peripheral", "service", "characteristic", "descriptor"
	UUIDs      []string // One or more identifiers, outermost first
	Capability string   // Optional property the resource lacked (e.g. "read", "write")
}

func (e *NotFoundError) Error() string {
	subject := e.Resource
	if len(e.UUIDs) > 0 {
		subject = fmt.Sprintf("%s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1])
	}
	if e.Capability != "" {
		subject += fmt.Sprintf(" with %s support", e.Capability)
	}
	if len(e.UUIDs) < 2 {
		return subject + " not found"
	}
	// BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	parent := e.UUIDs[0]
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
		parent = e.UUIDs[len(e.UUIDs)-2]
	}
	return fmt.Sprintf("%s not found in %s %q", subject, parentResource, parent)
}

// ConnectionErrorKind represents the specific kind of connection failure
type ConnectionErrorKind string

const (
	NotConnected     ConnectionErrorKind = "not_connected"
	AlreadyConnected ConnectionErrorKind = "already_connected"
	BluetoothOff     ConnectionErrorKind = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	Kind ConnectionErrorKind
	Msg  string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by Kind
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for connection failures
var (
	ErrNotConnected     = &ConnectionError{Kind: NotConnected}
	ErrAlreadyConnected = &ConnectionError{Kind: AlreadyConnected}
	ErrBluetoothOff     = &ConnectionError{Kind: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout               = errors.New("timeout")
	ErrUnsupported           = errors.New("unsupported")
	ErrAlreadyInProgress     = errors.New("operation already in progress")
	ErrBondRefused           = errors.New("User refused to enable")
	ErrCannotRemoveConnected = errors.New("peripheral is connected, disconnect it first")
)

// InvalidAddressError is returned for identifiers that are not a colon-separated MAC address
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid peripheral address %q", e.Address)
}

// TransportError wraps a failure reported by the platform BLE stack.
// Code carries the platform status code when one is known, 0 otherwise.
type TransportError struct {
	Op   string
	Code int
	Msg  string
	Err  error
}

func (e *TransportError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (code %d): %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WrapTransportError turns a raw transport failure into a *TransportError for op.
// Errors that already carry a domain meaning (TransportError, ConnectionError,
// NotFoundError) are returned as is.
func WrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return err
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}
	var nerr *NotFoundError
	if errors.As(err, &nerr) {
		return err
	}
	code := 0
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	return &TransportError{Op: op, Code: code, Err: err}
}

// ErrorCode extracts the platform status code from err, 0 when there is none.
func ErrorCode(err error) int {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Code
	}
	return 0
}

// IsConnectionKind reports whether err is a ConnectionError of the given kind
func IsConnectionKind(err error, kind ConnectionErrorKind) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known platform error strings to the ConnectionError sentinels.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}
