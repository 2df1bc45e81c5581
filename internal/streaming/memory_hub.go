package streaming

import (
	"context"
	"slices"
	"sync"
)

// subscriptionBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this starts losing events.
const subscriptionBuffer = 64

type subscription struct {
	ch     chan StreamEvent
	filter EventFilter
}

// wants reports whether the event passes this subscription's filter.
func (s *subscription) wants(e StreamEvent) bool {
	if s.filter.SessionID != "" && s.filter.SessionID != e.SessionID {
		return false
	}
	if s.filter.Phase != "" && s.filter.Phase != e.Phase {
		return false
	}
	if len(s.filter.EventTypes) > 0 && !slices.Contains(s.filter.EventTypes, e.EventType) {
		return false
	}
	return true
}

// MemoryHub is an in-process EventHub. Delivery is best effort: a full
// subscription drops the event rather than stalling the publisher.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscription)}
}

// Publish fans the event out to every matching subscription.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel func is
// idempotent and closes the event channel, so receivers can range over it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		ch:     make(chan StreamEvent, subscriptionBuffer),
		filter: filter,
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; !ok {
			return
		}
		delete(h.subs, id)
		// Publish sends only under the read lock, so closing here
		// cannot race a send.
		close(sub.ch)
	}

	return sub.ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
