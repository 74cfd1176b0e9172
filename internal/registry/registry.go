// Package registry owns the peripheral sessions, one per normalized id.
package registry

import (
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemgr/internal/device"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/internal/session"
)

// Registry maps peripheral ids to sessions. Lookups are lock-free; creation
// is serialized so concurrent callers for one id share a session.
type Registry struct {
	sessions  *hashmap.Map[string, *session.Session]
	createMu  sync.Mutex
	transport device.Transport
	sink      events.Sink
	opts      session.Options
	logger    *logrus.Logger
}

// New creates an empty registry opening links through transport.
func New(transport device.Transport, sink events.Sink, logger *logrus.Logger, opts session.Options) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Registry{
		sessions:  hashmap.New[string, *session.Session](),
		transport: transport,
		sink:      sink,
		opts:      opts,
		logger:    logger,
	}
}

// Get returns the session for id, if any.
func (r *Registry) Get(id string) (*session.Session, bool) {
	return r.sessions.Get(device.NormalizeID(id))
}

// Len returns the number of known peripherals.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Sessions returns every session ordered by id.
func (r *Registry) Sessions() []*session.Session {
	out := make([]*session.Session, 0, r.sessions.Len())
	r.sessions.Range(func(_ string, s *session.Session) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RetrieveOrCreate returns the session for id, creating it when unknown.
// A new session starts connecting right away; a failure of that first
// attempt is only logged since the caller's own operation will connect again.
func (r *Registry) RetrieveOrCreate(id string) (*session.Session, error) {
	id = device.NormalizeID(id)
	if s, ok := r.sessions.Get(id); ok {
		return s, nil
	}

	r.createMu.Lock()
	if s, ok := r.sessions.Get(id); ok {
		r.createMu.Unlock()
		return s, nil
	}
	if err := device.ValidateAddress(id); err != nil {
		r.createMu.Unlock()
		return nil, err
	}
	s, err := r.open(id)
	if err != nil {
		r.createMu.Unlock()
		return nil, err
	}
	r.sessions.Set(id, s)
	r.createMu.Unlock()

	r.logger.WithField("peripheral", id).Debug("Peripheral session created")

	if err := s.Connect(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"error":      err,
		}).Warn("Initial connect failed")
	}
	return s, nil
}

func (r *Registry) open(id string) (*session.Session, error) {
	link, err := r.transport.Open(id)
	if err != nil {
		return nil, device.WrapTransportError("open", device.NormalizeError(err))
	}
	return session.New(id, link, r.sink, r.logger, r.opts), nil
}

// Discover records a scan result. Known peripherals get their signal strength
// and advertisement refreshed; unknown ones get a new idle session.
func (r *Registry) Discover(result device.ScanResult) (*session.Session, bool, error) {
	id := device.NormalizeID(result.ID)
	if s, ok := r.sessions.Get(id); ok {
		s.Refresh(result)
		return s, false, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()
	if s, ok := r.sessions.Get(id); ok {
		s.Refresh(result)
		return s, false, nil
	}
	s, err := r.open(id)
	if err != nil {
		return nil, false, err
	}
	s.Discovered(result)
	r.sessions.Set(id, s)

	r.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"name":       result.Name,
		"rssi":       result.RSSI,
	}).Info("Discovered new peripheral")
	return s, true, nil
}

// Remove forgets a disconnected peripheral and releases its link.
// Unknown ids are ignored.
func (r *Registry) Remove(id string) error {
	id = device.NormalizeID(id)

	r.createMu.Lock()
	s, ok := r.sessions.Get(id)
	if !ok {
		r.createMu.Unlock()
		return nil
	}
	if s.IsConnected() {
		r.createMu.Unlock()
		return device.ErrCannotRemoveConnected
	}
	r.sessions.Del(id)
	r.createMu.Unlock()

	r.closeLink(s)
	return nil
}

// ClearAll drops every session after forcing it disconnected. Used when the
// adapter turns off and the platform handles are no longer valid.
func (r *Registry) ClearAll() {
	r.createMu.Lock()
	all := r.Sessions()
	for _, s := range all {
		r.sessions.Del(s.ID())
	}
	r.createMu.Unlock()

	for _, s := range all {
		s.Invalidate()
		r.closeLink(s)
	}
	r.logger.WithField("count", len(all)).Debug("Peripheral sessions cleared")
}

// DisconnectAll disconnects every session and keeps the entries.
func (r *Registry) DisconnectAll() {
	for _, s := range r.Sessions() {
		_ = s.Disconnect()
	}
}

// HandleAdapterState reacts to adapter power transitions.
func (r *Registry) HandleAdapterState(state device.AdapterState) {
	switch state {
	case device.AdapterOff:
		r.ClearAll()
	case device.AdapterTurningOff:
		r.DisconnectAll()
	}
}

// CloseUnclaimed closes a link opened outside the registry unless a session
// for id now uses it.
func (r *Registry) CloseUnclaimed(id string, link device.Link) {
	id = device.NormalizeID(id)
	r.createMu.Lock()
	defer r.createMu.Unlock()
	if s, ok := r.sessions.Get(id); ok && s.Link() == link {
		return
	}
	if err := link.Close(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"error":      err,
		}).Warn("Failed to close link")
	}
}

func (r *Registry) closeLink(s *session.Session) {
	if err := s.Close(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"peripheral": s.ID(),
			"error":      err,
		}).Warn("Failed to close link")
	}
}
