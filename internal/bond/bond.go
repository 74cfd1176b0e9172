// Package bond coordinates pairing requests with the asynchronous bond state
// changes the transport reports.
package bond

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/registry"
)

// DefaultIdentityTimeout bounds the name/RSSI lookup done after a bond completes
const DefaultIdentityTimeout = 2 * time.Second

type request struct {
	id       string
	pin      string
	hasPin   bool
	complete func(error)
}

// Coordinator tracks at most one pending bond request.
type Coordinator struct {
	mu      sync.Mutex
	pending *request

	transport device.Transport
	registry  *registry.Registry
	sink      events.Sink
	logger    *logrus.Logger

	// IdentityTimeout bounds the name/RSSI lookup after a bond completes
	IdentityTimeout time.Duration
}

// New creates a Coordinator with no pending request.
func New(transport device.Transport, reg *registry.Registry, sink events.Sink, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Coordinator{
		transport:       transport,
		registry:        reg,
		sink:            sink,
		logger:          logger,
		IdentityTimeout: DefaultIdentityTimeout,
	}
}

// Pending returns the device id of the pending request, if any.
func (c *Coordinator) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.id, true
}

// Request starts bonding with id. An already bonded device completes at once
// without pairing. A non-empty pin is submitted when the platform asks for it.
// onComplete runs exactly once unless Request itself returns an error.
func (c *Coordinator) Request(id, pin string, onComplete func(error)) error {
	id = device.NormalizeID(id)
	if err := device.ValidateAddress(id); err != nil {
		return err
	}
	if onComplete == nil {
		onComplete = func(error) {}
	}

	if c.transport.BondState(id) == device.BondBonded {
		c.logger.WithField("peripheral", id).Debug("Peripheral already bonded")
		onComplete(nil)
		return nil
	}

	req := &request{id: id, pin: pin, hasPin: pin != "", complete: onComplete}
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return device.ErrAlreadyInProgress
	}
	c.pending = req
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"pin":        req.hasPin,
	}).Info("Bonding with peripheral...")

	if err := c.transport.Pair(id); err != nil {
		c.take(req)
		return device.WrapTransportError("create bond", device.NormalizeError(err))
	}
	return nil
}

// CreateBond is the blocking form of Request. When ctx ends first the
// pending request is dropped and ctx.Err() is returned.
func (c *Coordinator) CreateBond(ctx context.Context, id, pin string) error {
	done := make(chan error, 1)
	if err := c.Request(id, pin, func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending != nil && c.pending.id == device.NormalizeID(id) {
			c.pending = nil
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// take clears the pending request when it is still req.
func (c *Coordinator) take(req *request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != req {
		return false
	}
	c.pending = nil
	return true
}

func (c *Coordinator) pendingFor(id string) *request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.id == id {
		return c.pending
	}
	return nil
}

// BondStateChanged completes the matching pending request and announces
// every new bond, including ones this coordinator did not start.
func (c *Coordinator) BondStateChanged(id string, state device.BondState) {
	id = device.NormalizeID(id)
	c.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"state":      state.String(),
	}).Debug("Bond state changed")

	if req := c.pendingFor(id); req != nil {
		switch state {
		case device.BondBonded:
			if c.take(req) {
				req.complete(nil)
			}
		case device.BondNone, device.BondFailed:
			if c.take(req) {
				req.complete(device.ErrBondRefused)
			}
		}
	}

	if state == device.BondBonded {
		c.sink.Emit(events.PeripheralDidBond{Peripheral: c.identify(id)})
	}
}

// PinRequired submits the pin of the matching pending request. Without a
// pin the request stays pending while the platform prompts the user.
func (c *Coordinator) PinRequired(id string) {
	id = device.NormalizeID(id)
	req := c.pendingFor(id)
	if req == nil || !req.hasPin {
		c.logger.WithField("peripheral", id).Debug("Pin requested, leaving it to the platform")
		return
	}

	if err := c.transport.SetPinCode(id, req.pin); err != nil {
		c.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"error":      err,
		}).Error("Failed to submit pin")
		if c.take(req) {
			req.complete(device.WrapTransportError("set pin", device.NormalizeError(err)))
		}
	}
}

// RemoveBond forgets the bond with id when the transport supports it and
// succeeds without doing anything otherwise.
func (c *Coordinator) RemoveBond(id string) error {
	id = device.NormalizeID(id)
	remover, ok := c.transport.(device.BondRemover)
	if !ok {
		c.logger.WithField("peripheral", id).Debug("Transport cannot remove bonds")
		return nil
	}
	if err := remover.RemoveBond(id); err != nil {
		return device.WrapTransportError("remove bond", device.NormalizeError(err))
	}
	return nil
}

// identify builds the snapshot of a freshly bonded device, asking the
// transport for its current name and signal strength. Values the link
// cannot provide leave the known ones untouched.
func (c *Coordinator) identify(id string) events.Peripheral {
	ctx, cancel := context.WithTimeout(context.Background(), c.IdentityTimeout)
	defer cancel()

	sess, known := c.registry.Get(id)
	var link device.Link
	if known {
		link = sess.Link()
	} else {
		l, err := c.transport.Open(id)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"peripheral": id,
				"error":      err,
			}).Warn("Cannot open bonded peripheral")
			return events.Peripheral{ID: id, Advertising: events.Advertising{RawData: events.NewRawData(nil)}}
		}
		// The transport shares links per id; a session created meanwhile owns it.
		defer c.registry.CloseUnclaimed(id, l)
		link = l
	}

	name, err := link.DeviceName(ctx)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"peripheral": id, "error": err}).Debug("Name unavailable")
	}
	rssi, rssiErr := link.ReadRSSI(ctx)
	if rssiErr != nil {
		c.logger.WithFields(logrus.Fields{"peripheral": id, "error": rssiErr}).Debug("RSSI unavailable")
	}

	if known {
		sess.SetName(name)
		if rssiErr == nil {
			sess.SetRSSI(rssi)
		}
		return sess.Snapshot()
	}
	p := events.Peripheral{
		ID:   id,
		Name: name,
		Advertising: events.Advertising{
			LocalName: name,
			RawData:   events.NewRawData(nil),
		},
	}
	if rssiErr == nil {
		p.RSSI = rssi
	}
	return p
}
