package outbox

import (
	"context"
	"sync"
)

// Hub is an in-process Sink fanning events out to topic subscribers over
// buffered channels. Slow consumers drop messages rather than blocking
// the drain loop; collaborators needing guaranteed delivery should read
// the outbox store directly instead.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	bufferSize  int
	closed      bool
}

// NewHub creates a hub with the given per-subscriber channel buffer.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe returns a channel receiving every delivered event whose topic
// matches. The subscription lives until the hub is closed.
func (h *Hub) Subscribe(topic string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.bufferSize)
	if h.closed {
		close(ch)
		return ch
	}

	h.subscribers[topic] = append(h.subscribers[topic], ch)
	return ch
}

// Deliver implements Sink.
func (h *Hub) Deliver(ctx context.Context, events []Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}

	for _, e := range events {
		for _, ch := range h.subscribers[e.Topic] {
			select {
			case ch <- e:
			default:
				// Full buffer: drop for this subscriber.
			}
		}
	}
	return nil
}

// Close shuts down all subscriber channels. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, chans := range h.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	h.subscribers = make(map[string][]chan Event)
	return nil
}
