//go:build test

package main

import (
	"bytes"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/devicefactory"
	"github.com/srg/blemgr/internal/testutils"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// CommandTestSuite runs commands against the fake transport of TransportSuite.
type CommandTestSuite struct {
	testutils.TransportSuite

	originalFactory func(*logrus.Logger) (device.Transport, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.TransportSuite.SetupTest()
	s.TestTimeout = 3 * time.Second
	color.NoColor = true

	s.originalFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*logrus.Logger) (device.Transport, error) {
		return s.Transport, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = s.originalFactory
}

// ExecuteCommand runs the command tree with args and returns stdout and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type commandResult struct {
	out string
	err error
}

// StartCommand runs the command in the background; read the result from the channel.
func (s *CommandTestSuite) StartCommand(args ...string) <-chan commandResult {
	done := make(chan commandResult, 1)
	go func() {
		out, err := s.ExecuteCommand(args...)
		done <- commandResult{out: out, err: err}
	}()
	return done
}

// WaitCommand waits for a background command to finish.
func (s *CommandTestSuite) WaitCommand(done <-chan commandResult) commandResult {
	select {
	case r := <-done:
		return r
	case <-time.After(s.TestTimeout):
		s.FailNow("command MUST finish in time")
		return commandResult{}
	}
}
