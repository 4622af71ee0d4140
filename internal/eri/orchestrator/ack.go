package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/idempotency"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/sentinel"
)

// Ack sources recorded in audit payloads.
const (
	AckSourceCallback = "callback"
	AckSourcePoll     = "poll"
	AckSourceSweep    = "sweep"
)

// PollAck checks the gateway for an acknowledgment. It runs from the
// background queue; while the acknowledgment stays pending it re-enqueues
// itself with a growing delay until the wait window expires.
func (o *Orchestrator) PollAck(ctx context.Context, filingID uuid.UUID, attempt int) error {
	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load filing for ack poll")
	}
	if rec.LifecycleState != models.StateERIInProgress {
		// Acknowledgment already arrived via callback, or the filing was
		// failed or cancelled while this poll sat queued.
		return nil
	}
	if rec.CorrelationID == "" {
		return o.enqueuer.EnqueueAckPoll(ctx, filingID, attempt, pollDelay(0, o.cfg.PollCap))
	}

	if time.Since(rec.LastUpdated) > o.cfg.AckWait {
		o.metrics.IncrementAckTimeout()
		o.failSubmission(ctx, filingID, models.ReasonAckTimeout, audit.ActionERIAckTimeout, "ack_timeout")
		return nil
	}

	start := time.Now()
	status, err := o.client.CheckStatus(ctx, rec.CorrelationID)
	o.metrics.ObserveGatewayLatency("check_status", time.Since(start))
	if err != nil {
		if eri.IsTransient(err) {
			o.logger.WarnContext(ctx, "ack poll failed, will retry",
				"filing_id", filingID, "attempt", attempt, "error", err)
			return o.enqueuer.EnqueueAckPoll(ctx, filingID, attempt+1, pollDelay(attempt+1, o.cfg.PollCap))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "gateway status check")
	}

	switch status.State {
	case eri.AckReceived:
		_, err := o.HandleAck(ctx, filingID, status.AckNumber, AckSourcePoll)
		if err != nil && dErrors.CodeOf(err) == dErrors.CodeInvalidTransition {
			// Callback won the race between the poll and the push.
			return nil
		}
		return err
	case eri.AckRejected:
		o.failSubmission(ctx, filingID, status.Reason, audit.ActionERIRejected, "rejected")
		return nil
	default:
		return o.enqueuer.EnqueueAckPoll(ctx, filingID, attempt+1, pollDelay(attempt+1, o.cfg.PollCap))
	}
}

// HandleAck applies a received acknowledgment: the filing passes through the
// acknowledged state and lands in the filed terminal state, the idempotency
// outcome becomes succeeded, and in-process waiters are released. Repeated
// delivery of the same acknowledgment is a no-op.
func (o *Orchestrator) HandleAck(ctx context.Context, filingID uuid.UUID, ackNumber, source string) (*models.FilingRecord, error) {
	if !models.ValidAckNumber(ackNumber) {
		return nil, dErrors.New(dErrors.CodeValidation, "malformed acknowledgment number")
	}

	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load filing for acknowledgment")
	}
	if rec.AckNumber == ackNumber && rec.LifecycleState == models.StateFiled {
		return rec, nil
	}
	waitStarted := rec.LastUpdated

	acked := rec
	if rec.AckNumber != ackNumber || rec.LifecycleState != models.StateERIAckReceived {
		acked, err = o.machine.AttemptTransition(ctx, filingID, models.StateERIAckReceived, lifecycle.TransitionContext{
			ActorID:   string(audit.RoleSystem),
			ActorRole: audit.RoleSystem,
			Version:   rec.Version,
			Apply: func(r *models.FilingRecord) {
				r.AckNumber = ackNumber
			},
		})
		if err != nil {
			return nil, err
		}

		o.appendEvent(ctx, filingID, audit.ActionERIAckReceived, systemActor(), map[string]any{
			"ack_number":     ackNumber,
			"correlation_id": acked.CorrelationID,
			"source":         source,
		})
	}
	// A filing already sitting acked with this number resumes here: a crash
	// between the two hops must not strand it short of the terminal state.

	filed, err := o.machine.AttemptTransition(ctx, filingID, models.StateFiled, lifecycle.TransitionContext{
		ActorID:   string(audit.RoleSystem),
		ActorRole: audit.RoleSystem,
		Version:   acked.Version,
	})
	if err != nil {
		return nil, err
	}

	if filed.IdempotencyKey != "" {
		o.recordOutcome(ctx, filed.IdempotencyKey, idempotency.Outcome{
			FilingID:      filingID,
			Status:        idempotency.StatusSucceeded,
			CorrelationID: filed.CorrelationID,
			AckNumber:     ackNumber,
		})
	}
	o.metrics.ObserveAckLatency(time.Since(waitStarted))
	o.metrics.IncrementOutcome("filed")
	o.waiters.Deliver(filed.CorrelationID, eri.AckStatus{State: eri.AckReceived, AckNumber: ackNumber})

	return filed, nil
}

// HandleCallbackRejection applies a rejection pushed by the gateway callback.
func (o *Orchestrator) HandleCallbackRejection(ctx context.Context, filingID uuid.UUID, reason string) error {
	rec, err := o.store.Get(ctx, filingID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load filing for rejection")
	}
	if rec.LifecycleState != models.StateERIInProgress {
		return dErrors.New(dErrors.CodeInvalidTransition, "filing is not awaiting the gateway")
	}
	o.failSubmission(ctx, filingID, reason, audit.ActionERIRejected, "rejected")
	o.waiters.Deliver(rec.CorrelationID, eri.AckStatus{State: eri.AckRejected, Reason: reason})
	return nil
}

// FilingByCorrelation resolves a gateway callback to a filing.
func (o *Orchestrator) FilingByCorrelation(ctx context.Context, correlationID string) (*models.FilingRecord, error) {
	rec, err := o.store.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown correlation id")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve correlation id")
	}
	return rec, nil
}

// Sweep fails in-progress submissions whose background work was lost. A
// filing with no correlation id past the dispatch window never reached the
// gateway; one with a correlation id past the wait window never got its
// acknowledgment.
func (o *Orchestrator) Sweep(ctx context.Context, dispatchWindow time.Duration) error {
	stuck, err := o.store.ListByState(ctx, models.StateERIInProgress)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list in-progress filings")
	}
	now := time.Now()
	for _, rec := range stuck {
		age := now.Sub(rec.LastUpdated)
		switch {
		case rec.CorrelationID == "" && age > dispatchWindow:
			o.logger.WarnContext(ctx, "sweeping undispatched submission", "filing_id", rec.ID, "age", age)
			o.failSubmission(ctx, rec.ID, models.ReasonGatewayUnavailable, audit.ActionERIRetriesExhausted, "exhausted")
		case rec.CorrelationID != "" && age > o.cfg.AckWait:
			o.logger.WarnContext(ctx, "sweeping unacknowledged submission", "filing_id", rec.ID, "age", age)
			o.metrics.IncrementAckTimeout()
			o.failSubmission(ctx, rec.ID, models.ReasonAckTimeout, audit.ActionERIAckTimeout, "ack_timeout")
		}
	}

	// A crash between the two acknowledgment hops leaves a filing acked but
	// not filed; redelivering its own acknowledgment completes the hop.
	halfAcked, err := o.store.ListByState(ctx, models.StateERIAckReceived)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list acknowledged filings")
	}
	for _, rec := range halfAcked {
		if rec.AckNumber == "" {
			continue
		}
		o.logger.WarnContext(ctx, "resuming half-filed acknowledgment", "filing_id", rec.ID)
		if _, err := o.HandleAck(ctx, rec.ID, rec.AckNumber, AckSourceSweep); err != nil {
			o.logger.ErrorContext(ctx, "resume acknowledgment", "filing_id", rec.ID, "error", err)
		}
	}
	return nil
}
