package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/idempotency"
	dErrors "taxdesk/pkg/domain-errors"
)

// Dispatch performs the gateway call for a filing claimed by Submit. It runs
// on the background queue and retries transient gateway failures with
// exponential backoff before giving up. A filing that left the in-progress
// state while the task sat queued is skipped.
func (o *Orchestrator) Dispatch(ctx context.Context, filingID uuid.UUID) error {
	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load filing for dispatch")
	}
	if rec.LifecycleState != models.StateERIInProgress {
		o.logger.InfoContext(ctx, "dispatch skipped, filing no longer in progress",
			"filing_id", filingID, "state", rec.LifecycleState)
		return nil
	}
	if rec.CorrelationID != "" {
		// Already accepted by the gateway; a redelivered task must not file twice.
		return nil
	}

	sub := eri.Submission{
		FilingID:       rec.ID,
		TaxpayerPAN:    rec.TaxpayerPAN,
		AssessmentYear: rec.AssessmentYear,
		FormType:       rec.FormType,
		Payload:        rec.Payload,
	}

	result, err := o.fileWithRetry(ctx, rec, sub)
	if err != nil {
		o.failSubmission(ctx, filingID, models.ReasonGatewayUnavailable, audit.ActionERIRetriesExhausted, "exhausted")
		return nil
	}

	if result.Status == eri.FileRejected {
		o.failSubmission(ctx, filingID, result.Reason, audit.ActionERIRejected, "rejected")
		return nil
	}

	return o.accepted(ctx, filingID, result)
}

// fileWithRetry attempts the gateway call up to MaxAttempts times. Only
// transient failures are retried; a definitive rejection returns on the
// attempt that produced it.
func (o *Orchestrator) fileWithRetry(ctx context.Context, rec *models.FilingRecord, sub eri.Submission) (*eri.FileResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		result, err := o.client.FileReturn(ctx, sub)
		o.metrics.ObserveGatewayLatency("file_return", time.Since(start))
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !eri.IsTransient(err) {
			o.logger.ErrorContext(ctx, "gateway dispatch failed",
				"filing_id", rec.ID, "pan", models.MaskPAN(rec.TaxpayerPAN), "error", err)
			return nil, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}

		delay := dispatchBackoff(o.cfg.BaseBackoff, attempt)
		o.logger.WarnContext(ctx, "gateway dispatch attempt failed, retrying",
			"filing_id", rec.ID,
			"pan", models.MaskPAN(rec.TaxpayerPAN),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		o.metrics.IncrementRetry()
		o.appendEvent(ctx, rec.ID, audit.ActionERIRetry, systemActor(), map[string]any{
			"attempt":      attempt,
			"max_attempts": o.cfg.MaxAttempts,
			"delay_ms":     delay.Milliseconds(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// accepted records the gateway correlation id and schedules acknowledgment
// polling. The correlation id write and its audit event share one atomic unit.
func (o *Orchestrator) accepted(ctx context.Context, filingID uuid.UUID, result *eri.FileResult) error {
	var key string
	err := o.store.RunInTx(ctx, filingID, func(ctx context.Context) error {
		rec, err := o.store.Get(ctx, filingID)
		if err != nil {
			return err
		}
		if rec.LifecycleState != models.StateERIInProgress {
			return nil
		}
		rec.CorrelationID = result.CorrelationID
		key = rec.IdempotencyKey
		if err := o.store.Update(ctx, rec, rec.Version); err != nil {
			return err
		}
		return o.trail.Append(ctx, audit.Event{
			EntityType: audit.EntityFiling,
			EntityID:   filingID.String(),
			Action:     audit.ActionERIAccepted,
			ActorID:    string(audit.RoleSystem),
			ActorRole:  audit.RoleSystem,
			Payload: audit.MarshalPayload(map[string]any{
				"correlation_id": result.CorrelationID,
			}),
		})
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record gateway acceptance")
	}

	if key != "" {
		o.recordOutcome(ctx, key, idempotency.Outcome{
			FilingID:      filingID,
			Status:        idempotency.StatusPending,
			CorrelationID: result.CorrelationID,
		})
	}
	o.metrics.IncrementOutcome("accepted")

	if err := o.enqueuer.EnqueueAckPoll(ctx, filingID, 0, pollDelay(0, o.cfg.PollCap)); err != nil {
		o.logger.ErrorContext(ctx, "ack poll enqueue failed", "filing_id", filingID, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "enqueue acknowledgment poll")
	}
	return nil
}

// dispatchBackoff is exponential with up to 25% jitter.
func dispatchBackoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// pollDelay grows the acknowledgment poll interval: quick at first, then
// settling at the cap for the long tail of the wait window.
func pollDelay(attempt int, capDelay time.Duration) time.Duration {
	schedule := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		5 * time.Minute,
	}
	if attempt < len(schedule) {
		return schedule[attempt]
	}
	return capDelay
}
