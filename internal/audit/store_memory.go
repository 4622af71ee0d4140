package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entityKey struct {
	entityType EntityType
	entityID   string
}

// InMemoryStore keeps events per entity in arrival order. Used by unit tests
// and single-process development mode.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[entityKey][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[entityKey][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	key := entityKey{entityType: event.EntityType, entityID: event.EntityID}
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *InMemoryStore) QueryByEntity(_ context.Context, entityType EntityType, entityID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := entityKey{entityType: entityType, entityID: entityID}
	return append([]Event{}, s.events[key]...), nil
}
