//go:build test

package main

import (
	"testing"

	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type BondCommandTestSuite struct {
	CommandTestSuite
}

func (s *BondCommandTestSuite) TestBondWithPin() {
	// GOAL: Verify bond submits the PIN when asked and waits for the bonded state
	//
	// TEST SCENARIO: Pair → pin requested → PIN submitted → bonded → "Bonded"

	done := s.StartCommand("bond", TestDeviceAddress1, "--pin", "123456")
	s.WaitFor(func() bool { return len(s.Transport.Pairs()) == 1 }, "pairing MUST start")
	s.Transport.EmitPinRequired(TestDeviceAddress1)
	s.WaitFor(func() bool { return len(s.Transport.Pins()) == 1 }, "PIN MUST be submitted")
	s.Transport.SetBondState(TestDeviceAddress1, device.BondBonded)
	s.Transport.EmitBondState(TestDeviceAddress1, device.BondBonded)

	r := s.WaitCommand(done)
	s.Require().NoError(r.err)
	s.Contains(r.out, "Bonded")

	pins := s.Transport.Pins()
	s.Equal(TestDeviceAddress1, pins[0].ID)
	s.Equal("123456", pins[0].Pin)
}

func (s *BondCommandTestSuite) TestBondRefused() {
	// GOAL: Verify a failed bond is reported as refused

	done := s.StartCommand("bond", TestDeviceAddress1)
	s.WaitFor(func() bool { return len(s.Transport.Pairs()) == 1 }, "pairing MUST start")
	s.Transport.EmitBondState(TestDeviceAddress1, device.BondFailed)

	r := s.WaitCommand(done)
	s.Require().ErrorIs(r.err, device.ErrBondRefused)
	s.Equal("bonding was refused by the peripheral or the user", FormatUserError(r.err))
}

func (s *BondCommandTestSuite) TestBondAlreadyBonded() {
	// GOAL: Verify an existing bond completes without pairing again

	s.Transport.SetBondState(TestDeviceAddress1, device.BondBonded)

	out, err := s.ExecuteCommand("bond", TestDeviceAddress1)
	s.Require().NoError(err)
	s.Contains(out, "Bonded")
	s.Empty(s.Transport.Pairs(), "bonded peripheral MUST NOT be paired again")
}

func (s *BondCommandTestSuite) TestRemoveBond() {
	// GOAL: Verify --remove forgets the bond through the platform

	s.Transport.SetBondState(TestDeviceAddress1, device.BondBonded)

	out, err := s.ExecuteCommand("bond", TestDeviceAddress1, "--remove", "--format", "json")
	s.Require().NoError(err)
	s.Contains(out, `"bonded":false`)
	s.Equal([]string{TestDeviceAddress1}, s.Transport.RemovedBonds())
}

func (s *BondCommandTestSuite) TestStateListsBonded() {
	// GOAL: Verify state prints the adapter state and the bonded peripherals
	//
	// TEST SCENARIO: Two bonded devices → state-changed on, "Bonded: 2" with both addresses

	s.Transport.Bonded = []string{TestDeviceAddress1, TestDeviceAddress2}

	out, err := s.ExecuteCommand("state", "--bonded")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithCollapseSpaces(true)).Assert(out, `
state-changed on
Bonded: 2
 00:00:00:00:00:01 (unnamed)
 00:00:00:00:00:02 (unnamed)`)
}

func (s *BondCommandTestSuite) TestStateConnectedJSON() {
	s.Transport.Connected = []string{TestDeviceAddress2}

	out, err := s.ExecuteCommand("state", "--connected", "--format", "json")
	s.Require().NoError(err)
	s.Contains(out, `{"event":"state-changed","payload":{"state":"on"}}`)
	s.Contains(out, `"id":"`+TestDeviceAddress2+`"`)
}

func (s *BondCommandTestSuite) TestStateEnableUnsupported() {
	// GOAL: Verify --enable fails when the platform cannot power the adapter

	s.Transport.State = device.AdapterOff

	_, err := s.ExecuteCommand("state", "--enable")
	s.Require().ErrorIs(err, device.ErrUnsupported)
}

func TestBondCommandTestSuite(t *testing.T) {
	suite.Run(t, new(BondCommandTestSuite))
}
