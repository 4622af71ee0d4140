// Package eri defines the contract with the Electronic Return Intermediary
// gateway and its adapters. The orchestrator depends only on the Client
// interface; transport-level concerns (TLS, signing) live behind it.
package eri

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Submission is the payload handed to the gateway. The filing payload itself
// is opaque to this layer; it comes finished from the tax-computation engine.
type Submission struct {
	FilingID       uuid.UUID
	TaxpayerPAN    string
	AssessmentYear string
	FormType       string
	Payload        json.RawMessage
}

// FileStatus is the synchronous outcome of FileReturn.
type FileStatus string

const (
	// FileAccepted means the gateway took the return; the acknowledgment
	// arrives asynchronously under the correlation id.
	FileAccepted FileStatus = "accepted"
	// FileRejected is terminal; a new idempotency key is required to retry.
	FileRejected FileStatus = "rejected"
)

type FileResult struct {
	Status        FileStatus
	CorrelationID string
	Reason        string
}

// AckState is the asynchronous acknowledgment status under a correlation id.
type AckState string

const (
	AckPending  AckState = "pending"
	AckReceived AckState = "ack"
	AckRejected AckState = "rejected"
)

type AckStatus struct {
	State     AckState
	AckNumber string
	Reason    string
}

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

// Client is the gateway contract. Transient faults (network, 5xx-class) are
// returned as errors satisfying IsTransient; the orchestrator retries those
// and never surfaces them to callers.
type Client interface {
	FileReturn(ctx context.Context, sub Submission) (*FileResult, error)
	CheckStatus(ctx context.Context, correlationID string) (*AckStatus, error)
}

// TransientError marks a fault worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient gateway error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err is a retryable gateway fault.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
