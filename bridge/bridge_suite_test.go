//go:build test

package bridge_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/srg/blemgr/bridge"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/testutils"
	"gopkg.in/yaml.v3"
)

// TestCase is one YAML-described bridge scenario.
type TestCase struct {
	Name string `yaml:"name"`
	// Peripheral is the GATT profile exposed by every link (sensor profile when empty)
	Peripheral []testutils.ServiceConfig `yaml:"peripheral,omitempty"`
	// ManualLinks leaves connection state changes to transport steps
	ManualLinks bool       `yaml:"manual_links,omitempty"`
	Steps       []TestStep `yaml:"steps"`
	Skip        string     `yaml:"skip,omitempty"`
}

// TestStep is either a bridge call or an injected transport event, followed
// by the expectations checked right after it.
type TestStep struct {
	Call string `yaml:"call,omitempty"`

	ID             string   `yaml:"id,omitempty"`
	Service        string   `yaml:"service,omitempty"`
	Characteristic string   `yaml:"characteristic,omitempty"`
	Descriptor     string   `yaml:"descriptor,omitempty"`
	Data           string   `yaml:"data,omitempty"` // hex
	MaxByteSize    int      `yaml:"max_byte_size,omitempty"`
	Services       []string `yaml:"services,omitempty"`
	Seconds        int      `yaml:"seconds,omitempty"`
	MTU            int      `yaml:"mtu,omitempty"`
	Pin            string   `yaml:"pin,omitempty"`
	Force          bool     `yaml:"force,omitempty"`

	Transport *TransportEvent `yaml:"transport,omitempty"`

	// WaitAfter sleeps before checking expectations, for timer driven events
	WaitAfter time.Duration `yaml:"wait_after,omitempty"`

	ExpectError    string                   `yaml:"expect_error,omitempty"`
	ExpectedResult interface{}              `yaml:"expected_result,omitempty"`
	ExpectedEvents []map[string]interface{} `yaml:"expected_events,omitempty"`
}

// TransportEvent injects one transport callback
type TransportEvent struct {
	ScanResult   *ScanResultEvent `yaml:"scan_result,omitempty"`
	AdapterState string           `yaml:"adapter_state,omitempty"`
	BondState    *StateEvent      `yaml:"bond_state,omitempty"`
	LinkState    *StateEvent      `yaml:"link_state,omitempty"`
	PinRequired  string           `yaml:"pin_required,omitempty"`
	Notify       *NotifyEvent     `yaml:"notify,omitempty"`
	// ScanFailed is the platform code of a scan aborted after it started
	ScanFailed *int `yaml:"scan_failed,omitempty"`
}

type ScanResultEvent struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	RSSI     int      `yaml:"rssi"`
	Data     string   `yaml:"data"` // hex
	Services []string `yaml:"services"`
}

type StateEvent struct {
	ID    string `yaml:"id"`
	State string `yaml:"state"`
}

type NotifyEvent struct {
	ID             string `yaml:"id"`
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
	Value          string `yaml:"value"` // hex
}

// BridgeSuite runs YAML scenarios against a Bridge backed by the fake transport.
type BridgeSuite struct {
	testutils.TransportSuite
	Bridge *bridge.Bridge
}

// SetupTest creates the bridge; scenarios replace it when they need a custom profile.
func (suite *BridgeSuite) SetupTest() {
	suite.TransportSuite.SetupTest()
	suite.newBridge()
}

func (suite *BridgeSuite) newBridge() {
	b, err := bridge.New(bridge.Options{
		Transport:        suite.Transport,
		Sink:             suite.Sink,
		Logger:           suite.Logger,
		ConnectTimeout:   200 * time.Millisecond,
		OperationTimeout: 200 * time.Millisecond,
	})
	suite.Require().NoError(err)
	suite.Bridge = b
}

// RunTestCasesFromYAML parses a test_cases document and runs every case as a subtest.
func (suite *BridgeSuite) RunTestCasesFromYAML(yamlContent string) {
	var scenario struct {
		TestCases []TestCase `yaml:"test_cases"`
	}
	err := yaml.Unmarshal([]byte(dedent(yamlContent)), &scenario)
	suite.Require().NoError(err, "Failed to parse YAML test cases")
	suite.Require().NotEmpty(scenario.TestCases, "YAML MUST contain test cases")

	for _, tc := range scenario.TestCases {
		suite.Run(tc.Name, func() {
			if tc.Skip != "" {
				suite.T().Skip(tc.Skip)
			}
			suite.ManualLinks = tc.ManualLinks
			suite.Profile = nil
			if len(tc.Peripheral) > 0 {
				suite.WithProfile().WithServices(tc.Peripheral)
			}
			suite.TransportSuite.SetupTest()
			suite.newBridge()

			for i, step := range tc.Steps {
				suite.runStep(i, step)
			}
		})
	}
}

func (suite *BridgeSuite) runStep(idx int, step TestStep) {
	label := fmt.Sprintf("step %d (%s)", idx, stepName(step))
	suite.Sink.Reset()

	var (
		result interface{}
		err    error
	)
	if step.Transport != nil {
		suite.inject(label, step.Transport)
	} else {
		result, err = suite.call(label, step)
	}

	if step.WaitAfter > 0 {
		time.Sleep(step.WaitAfter)
	}

	if step.ExpectError != "" {
		suite.Require().Error(err, "%s: MUST fail", label)
		suite.Contains(err.Error(), step.ExpectError, "%s: unexpected error", label)
	} else {
		suite.Require().NoError(err, "%s: MUST succeed", label)
	}

	if step.ExpectedResult != nil {
		testutils.NewJSONAsserter(suite.T()).Assert(testutils.MustJSON(result), testutils.MustJSON(step.ExpectedResult))
	}

	if step.ExpectedEvents != nil {
		testutils.NewJSONAsserter(suite.T()).AssertEvents(suite.Sink.Events(), testutils.MustJSON(step.ExpectedEvents))
	}
}

func stepName(step TestStep) string {
	if step.Call != "" {
		return step.Call
	}
	return "transport"
}

func mustHex(label, s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(fmt.Sprintf("%s: invalid hex %q: %v", label, s, err))
	}
	return b
}

func (suite *BridgeSuite) call(label string, step TestStep) (interface{}, error) {
	ctx := context.Background()
	b := suite.Bridge

	switch step.Call {
	case "start":
		return nil, b.Start()
	case "check_state":
		return b.CheckState().String(), nil
	case "scan":
		return nil, b.Scan(step.Services, step.Seconds, false, device.ScanOptions{})
	case "stop_scan":
		return nil, b.StopScan()
	case "is_scanning":
		return b.IsScanning(), nil
	case "connect":
		return nil, b.Connect(ctx, step.ID, bridge.ConnectOptions{})
	case "disconnect":
		return nil, b.Disconnect(step.ID, step.Force)
	case "is_connected":
		return b.IsPeripheralConnected(step.ID), nil
	case "remove_peripheral":
		return nil, b.RemovePeripheral(step.ID)
	case "retrieve_services":
		return b.RetrieveServices(ctx, step.ID, step.Services)
	case "read":
		v, err := b.Read(ctx, step.ID, step.Service, step.Characteristic)
		return hex.EncodeToString(v), err
	case "write":
		return b.Write(ctx, step.ID, step.Service, step.Characteristic, mustHex(label, step.Data), step.MaxByteSize)
	case "write_without_response":
		return b.WriteWithoutResponse(ctx, step.ID, step.Service, step.Characteristic, mustHex(label, step.Data), step.MaxByteSize)
	case "read_descriptor":
		v, err := b.ReadDescriptor(ctx, step.ID, step.Service, step.Characteristic, step.Descriptor)
		return hex.EncodeToString(v), err
	case "write_descriptor":
		return nil, b.WriteDescriptor(ctx, step.ID, step.Service, step.Characteristic, step.Descriptor, mustHex(label, step.Data))
	case "start_notification":
		return nil, b.StartNotification(ctx, step.ID, step.Service, step.Characteristic)
	case "stop_notification":
		return nil, b.StopNotification(ctx, step.ID, step.Service, step.Characteristic)
	case "request_mtu":
		return b.RequestMTU(ctx, step.ID, step.MTU)
	case "create_bond":
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		return nil, b.CreateBond(ctx, step.ID, step.Pin)
	case "remove_bond":
		return nil, b.RemoveBond(step.ID)
	case "discovered":
		return b.GetDiscoveredPeripherals(), nil
	case "connected":
		return b.GetConnectedPeripherals()
	case "bonded":
		return b.GetBondedPeripherals()
	default:
		suite.FailNow(label + ": unknown call")
		return nil, nil
	}
}

func (suite *BridgeSuite) inject(label string, ev *TransportEvent) {
	switch {
	case ev.ScanResult != nil:
		r := ev.ScanResult
		suite.Transport.EmitScanResult(device.ScanResult{
			ID:          r.ID,
			Name:        r.Name,
			RSSI:        r.RSSI,
			Data:        mustHex(label, r.Data),
			Services:    r.Services,
			Connectable: true,
		})
	case ev.AdapterState != "":
		suite.Transport.EmitAdapterState(parseAdapterState(label, ev.AdapterState))
	case ev.BondState != nil:
		suite.Transport.EmitBondState(ev.BondState.ID, parseBondState(label, ev.BondState.State))
	case ev.LinkState != nil:
		link := suite.Transport.Link(ev.LinkState.ID)
		suite.Require().NotNil(link, "%s: no link opened for %s", label, ev.LinkState.ID)
		link.EmitState(parseLinkState(label, ev.LinkState.State))
	case ev.PinRequired != "":
		suite.Transport.EmitPinRequired(ev.PinRequired)
	case ev.ScanFailed != nil:
		suite.Transport.EmitScanFailed(&device.TransportError{Op: "scan", Code: *ev.ScanFailed, Msg: "scan aborted"})
	case ev.Notify != nil:
		n := ev.Notify
		link := suite.Transport.Link(n.ID)
		suite.Require().NotNil(link, "%s: no link opened for %s", label, n.ID)
		link.EmitValue(n.Service, n.Characteristic, mustHex(label, n.Value))
	default:
		suite.FailNow(label + ": empty transport event")
	}
}

func parseAdapterState(label, s string) device.AdapterState {
	for _, st := range []device.AdapterState{device.AdapterOff, device.AdapterTurningOn, device.AdapterOn, device.AdapterTurningOff} {
		if st.String() == s {
			return st
		}
	}
	panic(label + ": unknown adapter state " + s)
}

func parseBondState(label, s string) device.BondState {
	for _, st := range []device.BondState{device.BondNone, device.BondBonding, device.BondBonded, device.BondFailed} {
		if st.String() == s {
			return st
		}
	}
	panic(label + ": unknown bond state " + s)
}

func parseLinkState(label, s string) device.LinkState {
	for _, st := range []device.LinkState{device.LinkDisconnected, device.LinkConnecting, device.LinkConnected, device.LinkDisconnecting} {
		if st.String() == s {
			return st
		}
	}
	panic(label + ": unknown link state " + s)
}

// dedent strips the common leading indentation of a raw string literal, tabs counting as 4 spaces.
func dedent(s string) string {
	const tabWidth = 4
	lines := strings.Split(strings.ReplaceAll(s, "\t", strings.Repeat(" ", tabWidth)), "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.Join(lines, "\n")
	}
	for i, line := range lines {
		if len(line) >= minIndent {
			lines[i] = line[minIndent:]
		} else {
			lines[i] = strings.TrimLeft(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}
