package audit

import (
	"context"
	"time"
)

// Trail is the append-only audit log. It stamps timestamps and delegates
// persistence to the store so tests can swap sinks easily.
type Trail struct {
	store Store
}

func NewTrail(store Store) *Trail {
	return &Trail{store: store}
}

// Append records one event. Callers running inside a transaction propagate it
// via context; the append then shares the caller's atomic unit.
func (t *Trail) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return t.store.Append(ctx, event)
}

// QueryByEntity returns the chronological event sequence for compliance
// review.
func (t *Trail) QueryByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Event, error) {
	return t.store.QueryByEntity(ctx, entityType, entityID)
}
