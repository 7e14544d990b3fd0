package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory outbox for tests and local development.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	byID   map[uuid.UUID]int
}

// NewMemoryStore creates an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[uuid.UUID]int),
	}
}

// Append implements Appender.
func (ms *MemoryStore) Append(ctx context.Context, event Event) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.byID[event.ID]; exists {
		return ErrDuplicateEvent
	}

	ms.byID[event.ID] = len(ms.events)
	ms.events = append(ms.events, event)
	return nil
}

// Unpublished implements Store. Events are kept in append order, so the
// result is oldest first.
func (ms *MemoryStore) Unpublished(ctx context.Context, limit int) ([]Event, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Event
	for _, e := range ms.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkPublished implements Store.
func (ms *MemoryStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		if idx, ok := ms.byID[id]; ok && ms.events[idx].PublishedAt == nil {
			ms.events[idx].PublishedAt = &now
		}
	}
	return nil
}

// Events returns a snapshot of all stored events, useful in tests.
func (ms *MemoryStore) Events() []Event {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.events)
}

// ByTopic returns all events with the given topic, useful in tests.
func (ms *MemoryStore) ByTopic(topic string) []Event {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Event
	for _, e := range ms.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
