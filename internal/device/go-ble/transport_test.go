//go:build test

package goble_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ble "github.com/go-ble/ble"
	"github.com/srg/blemgr/internal/device"
	goble "github.com/srg/blemgr/internal/device/go-ble"
	"github.com/srg/blemgr/internal/testutils"
	"github.com/srg/blemgr/internal/testutils/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const addr = "aa:bb:cc:dd:ee:01"

// recorder is a LinkListener and TransportListener keeping everything it receives
type recorder struct {
	mu       sync.Mutex
	states   []device.LinkState
	values   [][]byte
	results  []device.ScanResult
	adapters []device.AdapterState
	scanErrs []error
}

func (r *recorder) ConnectionStateChanged(_ string, state device.LinkState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) CharacteristicChanged(_, _, _ string, value []byte) {
	r.mu.Lock()
	r.values = append(r.values, value)
	r.mu.Unlock()
}

func (r *recorder) ScanResult(result device.ScanResult) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *recorder) ScanFailed(err error) {
	r.mu.Lock()
	r.scanErrs = append(r.scanErrs, err)
	r.mu.Unlock()
}

func (r *recorder) ScanErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.scanErrs...)
}

func (r *recorder) BondStateChanged(string, device.BondState) {}
func (r *recorder) PinRequired(string)                        {}

func (r *recorder) AdapterStateChanged(state device.AdapterState) {
	r.mu.Lock()
	r.adapters = append(r.adapters, state)
	r.mu.Unlock()
}

func (r *recorder) States() []device.LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.LinkState(nil), r.states...)
}

func (r *recorder) Results() []device.ScanResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.ScanResult(nil), r.results...)
}

func (r *recorder) Values() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.values...)
}

type GoBLETestSuite struct {
	suite.Suite

	central   *mocks.MockCentral
	client    *mocks.MockClient
	profile   *ble.Profile
	transport *goble.Transport
	listener  *recorder
}

func (s *GoBLETestSuite) SetupTest() {
	s.central = &mocks.MockCentral{}
	s.client = mocks.NewMockClient()
	s.profile = testutils.CreateProfileFromJSON(`{
		"services": [
			{
				"uuid": "180f",
				"characteristics": [
					{"uuid": "2a19", "properties": "read,notify", "descriptors": [{"uuid": "2902", "value": "AAA="}]}
				]
			},
			{
				"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
				"characteristics": [
					{"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,write-without-response"}
				]
			}
		]
	}`).BuildBLEProfile()

	s.transport = goble.NewTransport(s.central, testutils.NewTestHelper(s.T()).Logger)
	s.listener = &recorder{}
	s.transport.SetListener(s.listener)
}

func (s *GoBLETestSuite) battery() *ble.Characteristic {
	return s.profile.Services[0].Characteristics[0]
}

func (s *GoBLETestSuite) uartRX() *ble.Characteristic {
	return s.profile.Services[1].Characteristics[0]
}

// connect opens a link and waits until it reports connected.
func (s *GoBLETestSuite) connect() device.Link {
	s.central.On("Dial", mock.Anything, addr).Return(s.client, nil).Once()
	s.client.On("DiscoverProfile", true).Return(s.profile, nil).Maybe()

	link, err := s.transport.Open(addr)
	s.Require().NoError(err)
	link.SetListener(s.listener)
	s.Require().NoError(link.Connect())
	s.Require().Eventually(func() bool {
		states := s.listener.States()
		return len(states) > 0 && states[len(states)-1] == device.LinkConnected
	}, time.Second, 5*time.Millisecond, "link MUST report connected")
	return link
}

func (s *GoBLETestSuite) TestConnectAndDisconnect() {
	// GOAL: Verify the dial outcome and teardown are reported through the listener
	//
	// TEST SCENARIO: Connect → dial succeeds → connected; Disconnect → CancelConnection → disconnected

	link := s.connect()
	s.client.On("CancelConnection").Return(nil).Once()

	s.Require().NoError(link.Disconnect())
	s.Equal([]device.LinkState{device.LinkConnected, device.LinkDisconnected}, s.listener.States(),
		"disconnect MUST be reported once")

	_, err := link.ReadRSSI(context.Background())
	s.ErrorIs(err, device.ErrNotConnected, "operations after disconnect MUST fail with not connected")
	s.client.AssertExpectations(s.T())
}

func (s *GoBLETestSuite) TestDialFailureReportsDisconnected() {
	// GOAL: Verify a failed dial ends in a disconnected report
	//
	// TEST SCENARIO: Dial returns an error → link reports disconnected, stays unconnected

	s.central.On("Dial", mock.Anything, addr).Return(nil, errors.New("connection refused")).Once()

	link, err := s.transport.Open(addr)
	s.Require().NoError(err)
	link.SetListener(s.listener)
	s.Require().NoError(link.Connect())

	s.Eventually(func() bool {
		return len(s.listener.States()) == 1
	}, time.Second, 5*time.Millisecond)
	s.Equal(device.LinkDisconnected, s.listener.States()[0], "failed dial MUST report disconnected")
}

func (s *GoBLETestSuite) TestDisconnectCancelsDial() {
	// GOAL: Verify Disconnect aborts a pending dial
	//
	// TEST SCENARIO: Dial blocks on its context → Disconnect → dial returns → disconnected reported

	dialing := make(chan struct{})
	s.central.On("Dial", mock.Anything, addr).Run(func(args mock.Arguments) {
		close(dialing)
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled).Once()

	link, err := s.transport.Open(addr)
	s.Require().NoError(err)
	link.SetListener(s.listener)
	s.Require().NoError(link.Connect())
	s.Require().NoError(link.Connect(), "second Connect while dialing MUST be a no-op")

	select {
	case <-dialing:
	case <-time.After(time.Second):
		s.FailNow("dial MUST start")
	}
	s.Require().NoError(link.Disconnect())

	s.Eventually(func() bool {
		states := s.listener.States()
		return len(states) == 1 && states[0] == device.LinkDisconnected
	}, time.Second, 5*time.Millisecond, "cancelled dial MUST report disconnected")
	s.central.AssertNumberOfCalls(s.T(), "Dial", 1)
}

func (s *GoBLETestSuite) TestPlatformDisconnection() {
	// GOAL: Verify a disconnection signalled by the platform is reported
	//
	// TEST SCENARIO: connected → client Disconnected() closes → disconnected reported once

	link := s.connect()
	s.client.Drop()

	s.Eventually(func() bool {
		return len(s.listener.States()) == 2
	}, time.Second, 5*time.Millisecond)
	s.Equal(device.LinkDisconnected, s.listener.States()[1])

	// Local disconnect afterwards finds no client
	s.Require().NoError(link.Disconnect())
	s.client.AssertNotCalled(s.T(), "CancelConnection")
	s.Len(s.listener.States(), 2, "disconnection MUST be reported once")
}

func (s *GoBLETestSuite) TestDisconnectIdleLinkIsSilent() {
	// GOAL: Verify a link that never dialed reports nothing on Disconnect
	//
	// TEST SCENARIO: Open → Disconnect → no state change, no dial
	link, err := s.transport.Open(addr)
	s.Require().NoError(err)
	link.SetListener(s.listener)

	s.Require().NoError(link.Disconnect())

	s.Empty(s.listener.States(), "idle link MUST NOT report disconnected")
	s.central.AssertNotCalled(s.T(), "Dial", mock.Anything, mock.Anything)
}

func (s *GoBLETestSuite) TestGattOperations() {
	// GOAL: Verify GATT operations resolve UUIDs against the discovered profile
	//
	// TEST SCENARIO: discover → read battery → write both modes → descriptor round trip → MTU/RSSI/name

	link := s.connect()
	ctx := context.Background()

	services, err := link.DiscoverServices(ctx)
	s.Require().NoError(err)
	s.Require().Len(services, 2)
	s.Equal("180f", services[0].UUID)
	s.Equal("2a19", services[0].Characteristics[0].UUID)
	s.True(services[0].Characteristics[0].Properties.Has(device.PropNotify))
	s.Equal([]byte{0, 0}, services[0].Characteristics[0].Descriptors[0].Value)
	s.Equal("6e400001b5a3f393e0a9e50e24dcca9e", services[1].UUID, "custom UUIDs MUST be normalized")

	s.client.On("ReadCharacteristic", s.battery()).Return([]byte{0x55}, nil).Once()
	data, err := link.ReadCharacteristic(ctx, "180F", "00002a19-0000-1000-8000-00805f9b34fb")
	s.Require().NoError(err)
	s.Equal([]byte{0x55}, data, "full-length SIG UUIDs MUST resolve to the short form")

	s.client.On("WriteCharacteristic", s.uartRX(), []byte{1, 2}, false).Return(nil).Once()
	s.client.On("WriteCharacteristic", s.uartRX(), []byte{3}, true).Return(nil).Once()
	s.Require().NoError(link.WriteCharacteristic(ctx, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400002-b5a3-f393-e0a9-e50e24dcca9e", []byte{1, 2}, true))
	s.Require().NoError(link.WriteCharacteristic(ctx, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400002-b5a3-f393-e0a9-e50e24dcca9e", []byte{3}, false))

	cccd := s.battery().Descriptors[0]
	s.client.On("WriteDescriptor", cccd, []byte{1, 0}).Return(nil).Once()
	s.client.On("ReadDescriptor", cccd).Return([]byte{1, 0}, nil).Once()
	s.Require().NoError(link.WriteDescriptor(ctx, "180f", "2a19", "2902", []byte{1, 0}))
	desc, err := link.ReadDescriptor(ctx, "180f", "2a19", "2902")
	s.Require().NoError(err)
	s.Equal([]byte{1, 0}, desc)

	s.client.On("ExchangeMTU", 185).Return(185, nil).Once()
	mtu, err := link.RequestMTU(ctx, 185)
	s.Require().NoError(err)
	s.Equal(185, mtu)

	s.client.On("ReadRSSI").Return(-61).Once()
	rssi, err := link.ReadRSSI(ctx)
	s.Require().NoError(err)
	s.Equal(-61, rssi)

	s.client.On("Name").Return("Sensor").Once()
	name, err := link.DeviceName(ctx)
	s.Require().NoError(err)
	s.Equal("Sensor", name)

	s.client.AssertExpectations(s.T())
}

func (s *GoBLETestSuite) TestLookupErrors() {
	// GOAL: Verify missing GATT resources are reported as NotFoundError
	//
	// TEST SCENARIO: read before discovery → service not found; unknown characteristic/descriptor → not found

	link := s.connect()
	ctx := context.Background()

	_, err := link.ReadCharacteristic(ctx, "180f", "2a19")
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf, "read before discovery MUST fail with NotFoundError")
	s.Equal("service", nf.Resource)

	_, err = link.DiscoverServices(ctx)
	s.Require().NoError(err)

	_, err = link.ReadCharacteristic(ctx, "180f", "2a00")
	s.Require().ErrorAs(err, &nf)
	s.Equal("characteristic", nf.Resource)

	_, err = link.ReadDescriptor(ctx, "180f", "2a19", "2901")
	s.Require().ErrorAs(err, &nf)
	s.Equal("descriptor", nf.Resource)
	s.Equal(`descriptor "2901" not found in characteristic "2a19"`, err.Error())
}

func (s *GoBLETestSuite) TestTransportErrorsAreWrapped() {
	// GOAL: Verify go-ble failures surface as TransportError with the operation name
	//
	// TEST SCENARIO: ReadCharacteristic fails → TransportError{Op: "read characteristic"}

	link := s.connect()
	ctx := context.Background()
	_, err := link.DiscoverServices(ctx)
	s.Require().NoError(err)

	s.client.On("ReadCharacteristic", s.battery()).Return(nil, errors.New("att: insufficient authentication")).Once()
	_, err = link.ReadCharacteristic(ctx, "180f", "2a19")

	var terr *device.TransportError
	s.Require().ErrorAs(err, &terr)
	s.Equal("read characteristic", terr.Op)
	s.Contains(err.Error(), "insufficient authentication")
}

func (s *GoBLETestSuite) TestNotifications() {
	// GOAL: Verify subscribed values reach the link listener with normalized UUIDs
	//
	// TEST SCENARIO: enable → handler fires twice → two values recorded; disable → Unsubscribe

	link := s.connect()
	ctx := context.Background()
	_, err := link.DiscoverServices(ctx)
	s.Require().NoError(err)

	s.client.On("Subscribe", s.battery(), false, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(2).(ble.NotificationHandler)
		h([]byte{0x50})
		h([]byte{0x4f})
	}).Return(nil).Once()
	s.client.On("Unsubscribe", s.battery(), false).Return(nil).Once()

	s.Require().NoError(link.SetNotification(ctx, "180f", "2a19", true, false))
	s.Equal([][]byte{{0x50}, {0x4f}}, s.listener.Values())

	s.Require().NoError(link.SetNotification(ctx, "180f", "2a19", false, false))
	s.client.AssertExpectations(s.T())
}

func (s *GoBLETestSuite) TestContextBoundsBlockingCalls() {
	// GOAL: Verify a blocking go-ble call gives up when the context expires
	//
	// TEST SCENARIO: ExchangeMTU blocks → ctx deadline 20ms → DeadlineExceeded

	link := s.connect()
	release := make(chan struct{})
	defer close(release)
	s.client.On("ExchangeMTU", 247).Run(func(mock.Arguments) { <-release }).Return(247, nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := link.RequestMTU(ctx, 247)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *GoBLETestSuite) TestScanFiltersResults() {
	// GOAL: Verify scan results are filtered locally and delivered to the transport listener
	//
	// TEST SCENARIO: three advertisements, filter on 180d → only the heart-rate one is reported

	s.central.Advertisements = []ble.Advertisement{
		testutils.CreateScanResult("HR", "AA:BB:CC:DD:EE:01", -50).WithServices("180d").Build(),
		testutils.CreateScanResult("Battery", "AA:BB:CC:DD:EE:02", -60).WithServices("180f").Build(),
		testutils.CreateScanResult("", "AA:BB:CC:DD:EE:03", -70).Build(),
	}
	s.central.On("Scan", mock.Anything, false).Return(nil).Once()

	err := s.transport.StartScan([]device.ScanFilter{{ServiceUUID: "0000180D-0000-1000-8000-00805F9B34FB"}}, device.ResolvedScanOptions{})
	s.Require().NoError(err)
	s.Require().NoError(s.transport.StopScan())

	results := s.listener.Results()
	s.Require().Len(results, 1)
	s.Equal("aa:bb:cc:dd:ee:01", results[0].ID, "ids MUST be normalized")
	s.Equal("HR", results[0].Name)
	s.Equal(-50, results[0].RSSI)
	s.Equal([]string{"180d"}, results[0].Services)

	s.NoError(s.transport.StopScan(), "StopScan without a scan MUST be a no-op")
}

func (s *GoBLETestSuite) TestLateScanFailureReachesListener() {
	// GOAL: Verify a scan the platform aborts after start is reported to the listener
	//
	// TEST SCENARIO: StartScan succeeds → platform fails the scan → ScanFailed(transport error) → scan forgotten
	s.transport.ScanStartGrace = 10 * time.Millisecond
	s.central.ScanFail = make(chan error, 1)
	s.central.On("Scan", mock.Anything, false).Return(nil).Once()

	s.Require().NoError(s.transport.StartScan(nil, device.ResolvedScanOptions{}))
	s.Empty(s.listener.ScanErrors(), "running scan MUST NOT report failure")

	s.central.ScanFail <- errors.New("scan aborted by controller")

	s.Require().Eventually(func() bool {
		return len(s.listener.ScanErrors()) == 1
	}, time.Second, 5*time.Millisecond, "late failure MUST reach the listener")
	var terr *device.TransportError
	s.ErrorAs(s.listener.ScanErrors()[0], &terr)
	s.NoError(s.transport.StopScan(), "failed scan MUST already be forgotten")
}

func (s *GoBLETestSuite) TestScanFailsWhenBluetoothOff() {
	// GOAL: Verify an immediate scan failure is returned and a powered-off adapter is announced
	//
	// TEST SCENARIO: Scan fails with CoreBluetooth's invalid state → bluetooth_off error → adapter off event

	s.central.On("Scan", mock.Anything, true).
		Return(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")).Once()

	err := s.transport.StartScan(nil, device.ResolvedScanOptions{AllowDuplicates: true})
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Equal(device.AdapterOff, s.transport.AdapterState())
	s.Equal([]device.AdapterState{device.AdapterOff}, s.listener.adapters)
}

func (s *GoBLETestSuite) TestConnectedDevicesAndClose() {
	// GOAL: Verify connected links are listed and Close forgets the link
	//
	// TEST SCENARIO: connect → listed; Close → disconnects → no longer listed, a new Open returns a fresh link

	link := s.connect()
	ids, err := s.transport.ConnectedDevices()
	s.Require().NoError(err)
	s.Equal([]string{addr}, ids)

	again, err := s.transport.Open("AA:BB:CC:DD:EE:01")
	s.Require().NoError(err)
	s.Same(link, again, "Open MUST return the tracked link")

	s.client.On("CancelConnection").Return(nil).Once()
	s.Require().NoError(link.Close())

	ids, err = s.transport.ConnectedDevices()
	s.Require().NoError(err)
	s.Empty(ids)

	fresh, err := s.transport.Open(addr)
	s.Require().NoError(err)
	s.NotSame(link, fresh)
}

func (s *GoBLETestSuite) TestPairingUnsupported() {
	s.ErrorIs(s.transport.Pair(addr), device.ErrUnsupported)
	s.ErrorIs(s.transport.SetPinCode(addr, "0000"), device.ErrUnsupported)
	s.Equal(device.BondNone, s.transport.BondState(addr))
	bonded, err := s.transport.BondedDevices()
	s.NoError(err)
	s.Empty(bonded)
}

func TestGoBLETestSuite(t *testing.T) {
	suite.Run(t, new(GoBLETestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"linux powered off", errors.New("bluetooth is turned off"), device.ErrBluetoothOff},
		{"disconnected", errors.New("peripheral disconnected"), device.ErrNotConnected},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := goble.NormalizeError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := errors.New("att: request not supported")
	assert.Same(t, other, goble.NormalizeError(other), "unknown errors MUST pass through")
}

func TestScanResultFromAdvertisement(t *testing.T) {
	adv := testutils.CreateScanResultFromJSON(`{
		"name": "Thermo",
		"address": "AA:BB:CC:DD:EE:09",
		"rssi": -77,
		"services": ["0000181A-0000-1000-8000-00805F9B34FB"],
		"manufacturerData": "TAA=",
		"connectable": false
	}`).Build()

	r := goble.ScanResultFromAdvertisement(adv)
	require.Equal(t, "aa:bb:cc:dd:ee:09", r.ID)
	assert.Equal(t, "Thermo", r.Name)
	assert.Equal(t, -77, r.RSSI)
	assert.Equal(t, []string{"181a"}, r.Services)
	assert.Equal(t, []byte{0x4c, 0x00}, r.Data)
	assert.False(t, r.Connectable)
}
