package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateway adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique constraint or first-writer-wins violation
// - ErrVersionMismatch: optimistic-concurrency version check failed
// - ErrInvalidState: entity in wrong lifecycle state for requested operation
// - ErrAlreadyUsed: resource (idempotency key) already consumed
// - ErrUnavailable: gateway or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrInvalidState    = errors.New("invalid state")
	ErrAlreadyUsed     = errors.New("already used")
	ErrUnavailable     = errors.New("unavailable")
)
