// Package store persists filing records. Implementations enforce the
// optimistic-concurrency contract: Update succeeds only when the stored
// version matches the caller's expected version.
package store

import (
	"context"

	"github.com/google/uuid"

	"taxdesk/internal/filing/models"
)

type Store interface {
	Create(ctx context.Context, rec *models.FilingRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.FilingRecord, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.FilingRecord, error)

	// Update writes rec when the stored version equals expectedVersion,
	// incrementing the version and stamping LastUpdated. A mismatch returns
	// sentinel.ErrVersionMismatch without mutating anything.
	Update(ctx context.Context, rec *models.FilingRecord, expectedVersion int64) error

	ListByState(ctx context.Context, state models.LifecycleState) ([]*models.FilingRecord, error)

	// RunInTx executes fn inside one atomic unit scoped to filingID. Writes
	// performed through the context-carrying store calls inside fn, including
	// audit appends, commit or roll back together.
	RunInTx(ctx context.Context, filingID uuid.UUID, fn func(ctx context.Context) error) error
}
