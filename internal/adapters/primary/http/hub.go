package http

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// publishBacklog bounds events queued for the hub loop
const publishBacklog = 256

// subscriber is the outbound event queue of one /ws/stats client
type subscriber struct {
	id     string
	events chan ports.UpdateEvent
}

// offer queues event without blocking and reports whether it fit
func (s *subscriber) offer(event ports.UpdateEvent) bool {
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// eventHub fans diagnostics events out to websocket subscribers. The hub
// owns every subscriber's events channel and is the only one closing it:
// on unsubscribe, when the subscriber falls behind, or on disconnectAll.
type eventHub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	publish chan ports.UpdateEvent
	join    chan *subscriber
	leave   chan string
	stopped chan struct{}

	slowDrops atomic.Uint64
}

func newEventHub() *eventHub {
	return &eventHub{
		subscribers: make(map[string]*subscriber),
		publish:     make(chan ports.UpdateEvent, publishBacklog),
		join:        make(chan *subscriber),
		leave:       make(chan string),
		stopped:     make(chan struct{}),
	}
}

// run serves joins, leaves and publishes until ctx is done
func (h *eventHub) run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub.id] = sub
			h.mu.Unlock()
		case id := <-h.leave:
			h.mu.Lock()
			if sub, ok := h.subscribers[id]; ok {
				h.dropLocked(sub)
			}
			h.mu.Unlock()
		case event := <-h.publish:
			h.fanOut(event)
		}
	}
}

// fanOut delivers event to every subscriber, disconnecting the ones whose
// queue is full
func (h *eventHub) fanOut(event ports.UpdateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers {
		if !sub.offer(event) {
			h.dropLocked(sub)
			h.slowDrops.Add(1)
		}
	}
}

// dropLocked must be called with mu held
func (h *eventHub) dropLocked(sub *subscriber) {
	delete(h.subscribers, sub.id)
	close(sub.events)
}

// subscribe hands sub to the hub. It returns false once the hub stopped,
// in which case the caller still owns sub.events.
func (h *eventHub) subscribe(sub *subscriber) bool {
	select {
	case h.join <- sub:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *eventHub) unsubscribe(id string) {
	select {
	case h.leave <- id:
	case <-h.stopped:
	}
}

// send queues event for every subscriber. It never blocks after the hub
// stopped.
func (h *eventHub) send(event ports.UpdateEvent) {
	select {
	case h.publish <- event:
	case <-h.stopped:
	}
}

// size returns the number of subscribers
func (h *eventHub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// disconnectAll closes every subscriber queue, ending their write pumps
func (h *eventHub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers {
		h.dropLocked(sub)
	}
}
