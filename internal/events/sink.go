package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ChannelSink buffers events in a ring so a slow host never stalls the
// transport callbacks. The oldest events are dropped when the buffer is full.
type ChannelSink struct {
	ring   *eventRing
	logger *logrus.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewChannelSink creates a ChannelSink holding up to capacity undelivered events.
func NewChannelSink(capacity int, logger *logrus.Logger) *ChannelSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChannelSink{
		ring:   newEventRing(capacity),
		logger: logger,
	}
}

// Emit implements Sink. Events emitted after Close are dropped.
func (s *ChannelSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if evicted := s.ring.push(ev); evicted != nil {
		s.logger.WithFields(logrus.Fields{
			"event":   ev.Name(),
			"dropped": evicted.Name(),
		}).Warn("Event buffer full, dropped oldest event")
	}
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *ChannelSink) Events() <-chan Event {
	return s.ring.out()
}

// Stats returns how many events were emitted and how many were dropped.
func (s *ChannelSink) Stats() SinkStats {
	return s.ring.stats()
}

// Close stops accepting events and closes the delivery channel.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.ring.close()
	})
}

// LogSink writes every event to a logger at debug level
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a LogSink; a nil logger gets a default one.
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ev Event) {
	s.logger.WithFields(logrus.Fields{
		"event":   ev.Name(),
		"payload": ev,
	}).Debug("Event emitted")
}

// MultiSink fans each event out to several sinks in order
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}
