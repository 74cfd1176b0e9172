//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// TransportSuite provides a reusable test suite backed by a FakeTransport.
//
// Every link the transport opens gets the Profile services and, unless
// ManualLinks is set, reports connection changes synchronously.
//
// Basic usage:
//
//	type RegistrySuite struct {
//	    testutils.TransportSuite
//	}
//
//	func (s *RegistrySuite) SetupTest() {
//	    s.TransportSuite.SetupTest()
//	    s.registry = registry.New(s.Transport, s.Sink, s.Logger, session.DefaultOptions())
//	}
type TransportSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Transport *FakeTransport
	Sink      *RecordingSink

	// Profile is the GATT profile exposed by every opened link (SensorServices when nil)
	Profile *ProfileBuilder
	// ManualLinks disables AutoConnect on opened links
	ManualLinks bool
	// TestTimeout bounds Eventually-style waits
	TestTimeout time.Duration
}

// SetupTest creates a fresh transport and sink. Configure Profile/ManualLinks before calling it.
func (s *TransportSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Sink = NewRecordingSink()
	if s.TestTimeout == 0 {
		s.TestTimeout = time.Second
	}

	s.Transport = NewFakeTransport()
	s.Transport.LinkSetup = func(l *FakeLink) {
		l.AutoConnect = !s.ManualLinks
		if s.Profile != nil {
			l.Services = s.Profile.Build()
		} else {
			l.Services = SensorServices()
		}
	}
}

// WithProfile starts a custom profile for links opened after SetupTest.
func (s *TransportSuite) WithProfile() *ProfileBuilder {
	s.Profile = NewProfileBuilder()
	return s.Profile
}

// WaitFor waits for cond within TestTimeout.
func (s *TransportSuite) WaitFor(cond func() bool, msgAndArgs ...interface{}) bool {
	return s.Suite.Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
