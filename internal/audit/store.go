package audit

import "context"

// Store persists audit events. Append is insert-only; no update or delete
// operation exists anywhere on this interface.
type Store interface {
	Append(ctx context.Context, event Event) error
	QueryByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Event, error)
}
