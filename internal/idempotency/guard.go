// Package idempotency deduplicates submission attempts by caller-supplied
// key. First writer wins: the second caller with the same key never reaches
// the gateway and observes the first caller's outcome instead.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status of a recorded outcome.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is what a duplicate caller receives in place of a second gateway
// invocation.
type Outcome struct {
	FilingID      uuid.UUID `json:"filing_id"`
	Status        Status    `json:"status"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	AckNumber     string    `json:"ack_number,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Terminal reports whether the outcome can no longer change.
func (o Outcome) Terminal() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

// Guard is the idempotency key store. Reserve atomically claims a key by
// writing a pending outcome; when the key is already claimed it returns the
// stored outcome together with sentinel.ErrAlreadyUsed. Release undoes a
// reservation whose submission never started, so the caller may retry with
// the same key.
type Guard interface {
	Reserve(ctx context.Context, key string, filingID uuid.UUID) (*Outcome, error)
	Record(ctx context.Context, key string, outcome Outcome) error
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*Outcome, error)
}
