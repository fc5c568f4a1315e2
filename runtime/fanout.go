// Package runtime owns the connection lifecycle: the single physical
// connection, its state machine, bounded reconnection, and the fan-out of
// inbound events to subscribers. It contains no room or message logic.
package runtime

import (
	"log/slog"
	"sync"

	"roomsync/domain/event"
)

const subscriberBuffer = 128

// Fanout broadcasts session events to multiple in-process subscribers.
//
// It provides best-effort fan-out: a subscriber that stops draining its
// channel loses events rather than stalling the connection. Fanout is not
// a message broker.
//
// Fanout is safe for concurrent use by multiple goroutines.
type Fanout struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[int]chan event.SessionEvent
	next int
}

func NewFanout(log *slog.Logger) *Fanout {
	return &Fanout{log: log, subs: make(map[int]chan event.SessionEvent)}
}

// Subscribe registers a new consumer. The returned channel receives events
// in publish order. Cancel releases the subscription and closes the channel.
func (f *Fanout) Subscribe() (<-chan event.SessionEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan event.SessionEvent, subscriberBuffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers evt to every live subscriber.
func (f *Fanout) Publish(evt event.SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			f.log.Debug("subscriber lagging, event dropped", "subscriber", id)
		}
	}
}

// Close terminates every subscription.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
