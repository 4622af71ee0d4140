// Package orchestrator drives a filing through the e-filing gateway:
// idempotent submission intake, dispatch with bounded retry, and
// acknowledgment handling from both callback and polling paths.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri"
	"taxdesk/internal/eri/metrics"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	"taxdesk/internal/idempotency"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/sentinel"
)

// Enqueuer hands dispatch and acknowledgment work to the background queue.
type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, filingID uuid.UUID) error
	EnqueueAckPoll(ctx context.Context, filingID uuid.UUID, attempt int, delay time.Duration) error
}

// Config bounds the retry and acknowledgment behaviour.
type Config struct {
	// MaxAttempts is the total number of gateway dispatch attempts.
	MaxAttempts int
	// BaseBackoff seeds the exponential dispatch backoff.
	BaseBackoff time.Duration
	// AckWait is how long a submission may sit unacknowledged before it is
	// failed with an acknowledgment timeout.
	AckWait time.Duration
	// PollCap bounds the interval between acknowledgment polls.
	PollCap time.Duration
}

// DefaultConfig mirrors production settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		AckWait:     24 * time.Hour,
		PollCap:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.AckWait <= 0 {
		c.AckWait = d.AckWait
	}
	if c.PollCap <= 0 {
		c.PollCap = d.PollCap
	}
	return c
}

// Actor identifies who asked for a submission.
type Actor struct {
	ID   string
	Role audit.ActorRole
	IP   string
}

// SubmitResult is the synchronous answer to a submission request. Dispatch
// itself is asynchronous; a deduplicated request carries the first request's
// recorded outcome instead.
type SubmitResult struct {
	FilingID     uuid.UUID
	State        models.LifecycleState
	Deduplicated bool
	Outcome      *idempotency.Outcome
}

// Orchestrator owns the gateway submission flow for filings.
type Orchestrator struct {
	store    store.Store
	machine  *lifecycle.Machine
	trail    *audit.Trail
	guard    idempotency.Guard
	client   eri.Client
	enqueuer Enqueuer
	waiters  *AckWaiters
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger
}

func New(
	st store.Store,
	machine *lifecycle.Machine,
	trail *audit.Trail,
	guard idempotency.Guard,
	client eri.Client,
	enqueuer Enqueuer,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    st,
		machine:  machine,
		trail:    trail,
		guard:    guard,
		client:   client,
		enqueuer: enqueuer,
		waiters:  NewAckWaiters(),
		metrics:  m,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Waiters exposes the in-process acknowledgment fan-out, used by callers that
// want to block until an acknowledgment lands.
func (o *Orchestrator) Waiters() *AckWaiters { return o.waiters }

// Submit claims the idempotency key, moves the filing into the in-progress
// state and enqueues the gateway dispatch. A repeated key never reaches the
// gateway again: the caller gets the first request's outcome.
func (o *Orchestrator) Submit(ctx context.Context, filingID uuid.UUID, idempotencyKey string, actor Actor) (*SubmitResult, error) {
	if idempotencyKey == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "idempotency key is required")
	}

	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "filing not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load filing")
	}
	if actor.Role == audit.RoleEndUser && rec.UserID.String() != actor.ID {
		return nil, dErrors.New(dErrors.CodeAuthorization, "filing belongs to another user")
	}

	existing, err := o.guard.Reserve(ctx, idempotencyKey, filingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return o.deduplicated(ctx, rec, idempotencyKey, existing, actor)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reserve idempotency key")
	}

	o.appendEvent(ctx, rec.ID, audit.ActionSubmitRequested, actor, map[string]any{
		"idempotency_key": idempotencyKey,
		"state":           rec.LifecycleState,
	})

	updated, err := o.machine.AttemptTransition(ctx, filingID, models.StateERIInProgress, lifecycle.TransitionContext{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		IP:        actor.IP,
		Version:   rec.Version,
		Apply: func(r *models.FilingRecord) {
			r.IdempotencyKey = idempotencyKey
			r.CorrelationID = ""
		},
	})
	if err != nil {
		// The submission never started, so the key must stay reusable. A
		// caller retrying after a version conflict keeps the same key.
		if relErr := o.guard.Release(ctx, idempotencyKey); relErr != nil {
			o.logger.WarnContext(ctx, "release idempotency key", "key", idempotencyKey, "error", relErr)
		}
		return nil, err
	}

	if err := o.enqueuer.EnqueueDispatch(ctx, filingID); err != nil {
		o.logger.ErrorContext(ctx, "dispatch enqueue failed", "filing_id", filingID, "error", err)
		o.failSubmission(ctx, filingID, models.ReasonGatewayUnavailable, audit.ActionERIRetriesExhausted, "exhausted")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue gateway dispatch")
	}

	return &SubmitResult{FilingID: filingID, State: updated.LifecycleState}, nil
}

func (o *Orchestrator) deduplicated(ctx context.Context, rec *models.FilingRecord, key string, existing *idempotency.Outcome, actor Actor) (*SubmitResult, error) {
	if existing == nil {
		return nil, dErrors.New(dErrors.CodeDuplicateKey, "idempotency key already in use")
	}
	if existing.FilingID != rec.ID {
		return nil, dErrors.New(dErrors.CodeDuplicateKey, "idempotency key bound to a different filing")
	}
	o.appendEvent(ctx, rec.ID, audit.ActionSubmitDeduplicated, actor, map[string]any{
		"idempotency_key": key,
		"outcome_status":  existing.Status,
	})
	o.metrics.IncrementOutcome("deduplicated")
	return &SubmitResult{
		FilingID:     rec.ID,
		State:        rec.LifecycleState,
		Deduplicated: true,
		Outcome:      existing,
	}, nil
}

// failSubmission moves an in-progress filing to the failed state and records
// the failure against its idempotency key. Safe to call from any of the
// asynchronous paths; a filing already out of the in-progress state is left
// alone.
func (o *Orchestrator) failSubmission(ctx context.Context, filingID uuid.UUID, reason string, action audit.Action, outcomeLabel string) {
	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		o.logger.ErrorContext(ctx, "load filing for failure", "filing_id", filingID, "error", err)
		return
	}
	if rec.LifecycleState != models.StateERIInProgress {
		return
	}

	_, err = o.machine.AttemptTransition(ctx, filingID, models.StateERIFailed, lifecycle.TransitionContext{
		ActorID:   string(audit.RoleSystem),
		ActorRole: audit.RoleSystem,
		Version:   rec.Version,
		Reason:    reason,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "fail transition", "filing_id", filingID, "error", err)
		return
	}

	o.appendEvent(ctx, filingID, action, systemActor(), map[string]any{
		"reason":         reason,
		"correlation_id": rec.CorrelationID,
	})
	if rec.IdempotencyKey != "" {
		o.recordOutcome(ctx, rec.IdempotencyKey, idempotency.Outcome{
			FilingID:      filingID,
			Status:        idempotency.StatusFailed,
			CorrelationID: rec.CorrelationID,
			Reason:        reason,
		})
	}
	o.metrics.IncrementOutcome(outcomeLabel)
}

func (o *Orchestrator) recordOutcome(ctx context.Context, key string, outcome idempotency.Outcome) {
	if err := o.guard.Record(ctx, key, outcome); err != nil {
		o.logger.WarnContext(ctx, "record idempotency outcome", "error", err)
	}
}

// appendEvent writes an orchestration audit event. Best effort outside a
// transition: the lifecycle machine owns the transactional events.
func (o *Orchestrator) appendEvent(ctx context.Context, filingID uuid.UUID, action audit.Action, actor Actor, payload map[string]any) {
	event := audit.Event{
		EntityType: audit.EntityFiling,
		EntityID:   filingID.String(),
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		IP:         actor.IP,
		Payload:    audit.MarshalPayload(payload),
	}
	if err := o.trail.Append(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "audit append failed", "filing_id", filingID, "action", action, "error", err)
	}
}

func systemActor() Actor {
	return Actor{ID: string(audit.RoleSystem), Role: audit.RoleSystem}
}
