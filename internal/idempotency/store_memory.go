package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxdesk/pkg/platform/sentinel"
)

// InMemoryGuard backs unit tests and single-process mode.
type InMemoryGuard struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

func NewInMemoryGuard() *InMemoryGuard {
	return &InMemoryGuard{outcomes: make(map[string]Outcome)}
}

func (g *InMemoryGuard) Reserve(_ context.Context, key string, filingID uuid.UUID) (*Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.outcomes[key]; ok {
		out := existing
		return &out, sentinel.ErrAlreadyUsed
	}
	g.outcomes[key] = Outcome{
		FilingID:   filingID,
		Status:     StatusPending,
		RecordedAt: time.Now(),
	}
	return nil, nil
}

func (g *InMemoryGuard) Record(_ context.Context, key string, outcome Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now()
	}
	g.outcomes[key] = outcome
	return nil
}

func (g *InMemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.outcomes, key)
	return nil
}

func (g *InMemoryGuard) Get(_ context.Context, key string) (*Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	outcome, ok := g.outcomes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := outcome
	return &out, nil
}
