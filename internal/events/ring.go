package events

import "sync/atomic"

// eventRing is the delivery queue behind ChannelSink: a buffered channel
// whose writer evicts the oldest pending event instead of blocking.
// It has a single writer at a time (ChannelSink serializes push and close).
type eventRing struct {
	ch      chan Event
	emitted atomic.Uint64
	dropped atomic.Uint64
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		panic("events: ring capacity must be > 0")
	}
	return &eventRing{ch: make(chan Event, capacity)}
}

// push queues ev and reports the event it evicted, if any. A reader racing
// with push may take the slot first, in which case nothing is evicted.
func (r *eventRing) push(ev Event) (evicted Event) {
	r.emitted.Add(1)
	for {
		select {
		case r.ch <- ev:
			return evicted
		default:
		}
		select {
		case old := <-r.ch:
			r.dropped.Add(1)
			evicted = old
		default:
		}
	}
}

func (r *eventRing) out() <-chan Event { return r.ch }

func (r *eventRing) close() { close(r.ch) }

// SinkStats counts what a ChannelSink accepted and what it had to discard.
type SinkStats struct {
	Emitted uint64
	Dropped uint64
}

func (r *eventRing) stats() SinkStats {
	return SinkStats{Emitted: r.emitted.Load(), Dropped: r.dropped.Load()}
}
