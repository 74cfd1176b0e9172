//go:build test

package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateScanResult builds a connectable scan result.
func CreateScanResult(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

// CreateScanResultFromJSON builds a scan result from a JSON description.
func CreateScanResultFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

// CreateProfile starts an empty GATT profile.
func CreateProfile() *ProfileBuilder {
	return NewProfileBuilder()
}

// CreateProfileFromJSON builds a GATT profile from a JSON description.
func CreateProfileFromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	return NewProfileBuilder().FromJSON(jsonStrFmt, args...)
}
