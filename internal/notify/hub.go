package notify

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Hub keeps the currently visible toasts and fans new ones out to
// subscribers. A subscriber that falls behind misses events rather than
// stalling the publisher.
type Hub struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	capacity int
	recent   []Event
	subs     map[int]chan Event
	nextID   int
	closed   bool
}

var _ Notifier = (*Hub)(nil)

func NewHub(clock clockwork.Clock, subscriberCapacity int) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if subscriberCapacity <= 0 {
		subscriberCapacity = 16
	}
	return &Hub{
		clock:    clock,
		capacity: subscriberCapacity,
		subs:     make(map[int]chan Event),
	}
}

func (h *Hub) Notify(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = h.clock.Now().UTC()
	}
	h.recent = append(h.pruneLocked(), ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Active returns the toasts still visible now, oldest first.
func (h *Hub) Active() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = h.pruneLocked()
	out := make([]Event, len(h.recent))
	copy(out, h.recent)
	return out
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel. After Close the channel comes back already closed.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.capacity)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Close ends every subscription so streaming readers return.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) pruneLocked() []Event {
	now := h.clock.Now()
	kept := h.recent[:0]
	for _, ev := range h.recent {
		if !ev.Expired(now) {
			kept = append(kept, ev)
		}
	}
	return kept
}
