package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/filing/models"
	"taxdesk/pkg/platform/sentinel"
)

// numShards bounds lock contention when many filings transition concurrently.
// Transactions on the same filing always hash to the same shard, which is
// what serializes competing transitions in memory mode.
const numShards = 64

// InMemoryStore is the development and unit-test implementation.
type InMemoryStore struct {
	mu       sync.RWMutex
	filings  map[uuid.UUID]*models.FilingRecord
	byCorrel map[string]uuid.UUID

	shards [numShards]sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		filings:  make(map[uuid.UUID]*models.FilingRecord),
		byCorrel: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.FilingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.filings[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	now := time.Now()
	cp := rec.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.LastUpdated = now
	if cp.Version == 0 {
		cp.Version = 1
	}
	cp.LegacyStatus = models.DeriveLegacyStatus(cp.LifecycleState)
	s.filings[cp.ID] = cp
	*rec = *cp.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*models.FilingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.filings[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) GetByCorrelationID(_ context.Context, correlationID string) (*models.FilingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCorrel[correlationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rec, ok := s.filings[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, rec *models.FilingRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.filings[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return sentinel.ErrVersionMismatch
	}
	cp := rec.Clone()
	cp.Version = expectedVersion + 1
	cp.LastUpdated = time.Now()
	cp.LegacyStatus = models.DeriveLegacyStatus(cp.LifecycleState)
	cp.CreatedAt = stored.CreatedAt
	if cp.CorrelationID != "" && cp.CorrelationID != stored.CorrelationID {
		s.byCorrel[cp.CorrelationID] = cp.ID
	}
	s.filings[cp.ID] = cp
	*rec = *cp.Clone()
	return nil
}

func (s *InMemoryStore) ListByState(_ context.Context, state models.LifecycleState) ([]*models.FilingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.FilingRecord
	for _, rec := range s.filings {
		if rec.LifecycleState == state {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// RunInTx serializes transactions per filing by locking the shard the filing
// id hashes to. Store calls inside fn see committed state; there is no
// rollback in memory mode, so fn must perform its version-checked write last.
func (s *InMemoryStore) RunInTx(ctx context.Context, filingID uuid.UUID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := &s.shards[shardFor(filingID)]
	shard.Lock()
	defer shard.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// shardFor uses FNV-1a over the raw uuid bytes.
func shardFor(id uuid.UUID) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range id {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return int(h % numShards)
}
