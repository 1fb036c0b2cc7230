package events

import (
	"context"
	"sync"

	"github.com/relves/vaultgate/pkg/types"
)

const defaultSubscriptionBuffer = 32

// Hub fans committed events out to live subscribers. A subscriber that
// falls behind loses events rather than slowing the publisher; the audit
// chain remains the record.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type subscription struct {
	resource types.ResourceID
	ch       chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscription]struct{})}
}

// Subscribe returns a channel receiving the events of resource, or of
// every resource when resource is empty. The returned function ends the
// subscription and closes the channel; calling it again is a no-op.
func (h *Hub) Subscribe(resource types.ResourceID, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	sub := &subscription{resource: resource, ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Emit(_ context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.resource != "" && sub.resource != e.Resource {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

var _ Sink = (*Hub)(nil)
