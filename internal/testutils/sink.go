//go:build test

package testutils

import (
	"sync"

	"github.com/srg/blemgr/internal/events"
	"github.com/stretchr/testify/mock"
)

// RecordingSink keeps every emitted event in order
type RecordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Emit(ev events.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Events returns a copy of everything emitted so far.
func (s *RecordingSink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// Named returns the emitted events with the given name.
func (s *RecordingSink) Named(name string) []events.Event {
	var out []events.Event
	for _, ev := range s.Events() {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

// Names returns the names of all emitted events in order.
func (s *RecordingSink) Names() []string {
	evs := s.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name()
	}
	return out
}

// Last returns the most recent event, nil when nothing was emitted.
func (s *RecordingSink) Last() events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// Reset forgets recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// MockSink is a testify mock of events.Sink for tests that assert exact emissions
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Emit(ev events.Event) {
	m.Called(ev)
}
