// Package notifier delivers live session events to at most one observer per session.
//
// Delivery is best-effort. Publish never blocks: a slow or departed observer
// is dropped and its channel closed. The session store stays authoritative for
// anything an observer misses.
package notifier

import (
	"log/slog"
	"sync"

	"github.com/raphaelgruber/maigret-api/internal/models"
)

// DefaultBuffer is the per-observer event buffer.
const DefaultBuffer = 16

// Subscription is one observer's event stream.
// Events is closed when the observer is replaced, dropped, unsubscribed,
// or after a terminal event was delivered.
type Subscription struct {
	SessionID string
	ch        chan models.Event
	closed    bool
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// close must be called with the owning slot locked.
func (s *Subscription) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type slot struct {
	mu  sync.Mutex
	sub *Subscription
}

// Notifier holds the observer table.
type Notifier struct {
	mu     sync.Mutex
	slots  map[string]*slot
	buffer int
	logger *slog.Logger
}

// New creates a notifier. A non-positive buffer uses DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		slots:  make(map[string]*slot),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer for id, replacing and closing any prior one.
func (n *Notifier) Subscribe(id string) *Subscription {
	sub := &Subscription{SessionID: id, ch: make(chan models.Event, n.buffer)}

	// n.mu is held so a slot being released cannot receive the new observer.
	n.mu.Lock()
	defer n.mu.Unlock()

	sl, ok := n.slots[id]
	if !ok {
		sl = &slot{}
		n.slots[id] = sl
	}
	sl.mu.Lock()
	if sl.sub != nil {
		n.logger.Debug("replacing observer", "session_id", id)
		sl.sub.close()
	}
	sl.sub = sub
	sl.mu.Unlock()

	return sub
}

// Unsubscribe removes sub if it is still the current observer for its session.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	sl, ok := n.slots[sub.SessionID]
	if !ok {
		// dropped or terminated earlier; the channel is already closed
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sub.close()
	if sl.sub == sub {
		sl.sub = nil
		delete(n.slots, sub.SessionID)
	}
}

// Publish delivers ev to the observer of id, if any.
// It reports whether the event was handed to an observer.
func (n *Notifier) Publish(id string, ev models.Event) bool {
	n.mu.Lock()
	sl, ok := n.slots[id]
	n.mu.Unlock()
	if !ok {
		return false
	}

	delivered, vacated := n.deliver(sl, id, ev)
	if vacated {
		n.release(id, sl)
	}
	return delivered
}

// deliver hands ev to the slot's observer. vacated reports that the observer
// was closed and the slot left empty.
func (n *Notifier) deliver(sl *slot, id string, ev models.Event) (delivered, vacated bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sub := sl.sub
	if sub == nil {
		return false, false
	}

	select {
	case sub.ch <- ev:
	default:
		n.logger.Warn("observer too slow, dropping", "session_id", id, "event", ev.Type)
		sl.sub = nil
		sub.close()
		return false, true
	}

	if ev.Terminal() {
		sl.sub = nil
		sub.close()
		return true, true
	}
	return true, false
}

// release removes an empty slot unless a new observer claimed it meanwhile.
func (n *Notifier) release(id string, sl *slot) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if n.slots[id] == sl && sl.sub == nil {
		delete(n.slots, id)
	}
}

// Observers returns the number of sessions with a registered observer.
func (n *Notifier) Observers() int {
	n.mu.Lock()
	slots := make([]*slot, 0, len(n.slots))
	for _, sl := range n.slots {
		slots = append(slots, sl)
	}
	n.mu.Unlock()

	count := 0
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.sub != nil {
			count++
		}
		sl.mu.Unlock()
	}
	return count
}
