// Package lifecycle is the single authority for filing state transitions.
// The transition table is statically declared, versioned data: it is
// validated exhaustively at startup and never mutated live.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/filing/metrics"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/sentinel"
)

// tableVersion identifies the transition-table revision recorded with every
// transition event.
const tableVersion = "1"

type edge struct {
	to      models.LifecycleState
	trigger string
}

// transitions is the canonical graph. Cancellation of an in-flight gateway
// submission is additionally guarded in AttemptTransition: once an
// acknowledgment is recorded, e-filing has externally occurred and the edge
// is refused. eri_ack_received has no cancellation edge for the same reason.
var transitions = map[models.LifecycleState][]edge{
	models.StateDraftInit: {
		{models.StateReadyToFile, "entry_prerequisites_met"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateReadyToFile: {
		{models.StateSubmittedToCA, "review_requested"},
		{models.StateERIInProgress, "direct_submission"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateSubmittedToCA: {
		{models.StateCAApproved, "approved_by_reviewer"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateCAApproved: {
		{models.StateERIInProgress, "dispatched_to_gateway"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateERIInProgress: {
		{models.StateERIAckReceived, "ack_received"},
		{models.StateERIFailed, "gateway_failure"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateERIAckReceived: {
		{models.StateFiled, "ack_validated"},
	},
	models.StateERIFailed: {
		{models.StateReadyToFile, "resubmission"},
		{models.StateCancelled, "cancelled"},
	},
	models.StateFiled:     {},
	models.StateCancelled: {},
}

// stateProgress is the floor progress per state. Progress never decreases
// while a filing is active; it resets only on cancellation or resubmission.
var stateProgress = map[models.LifecycleState]int{
	models.StateDraftInit:      10,
	models.StateReadyToFile:    25,
	models.StateSubmittedToCA:  40,
	models.StateCAApproved:     55,
	models.StateERIInProgress:  70,
	models.StateERIAckReceived: 90,
	models.StateFiled:          100,
	models.StateERIFailed:      70,
	models.StateCancelled:      0,
}

// ValidateTable checks the transition graph invariants: every declared state
// is reachable from draft_init and terminal states have no outgoing edges.
// Called from main; a broken table is a deployment error, not a runtime one.
func ValidateTable() error {
	reachable := map[models.LifecycleState]bool{models.StateDraftInit: true}
	frontier := []models.LifecycleState{models.StateDraftInit}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, e := range transitions[current] {
			if !reachable[e.to] {
				reachable[e.to] = true
				frontier = append(frontier, e.to)
			}
		}
	}
	for state, edges := range transitions {
		if !reachable[state] {
			return fmt.Errorf("lifecycle table: state %s unreachable from %s", state, models.StateDraftInit)
		}
		if state.IsTerminal() && len(edges) > 0 {
			return fmt.Errorf("lifecycle table: terminal state %s has outgoing edges", state)
		}
		if _, ok := stateProgress[state]; !ok {
			return fmt.Errorf("lifecycle table: state %s missing progress mapping", state)
		}
	}
	return nil
}

// triggerFor returns the trigger label for an edge, or "" when the edge is
// not in the table.
func triggerFor(from, to models.LifecycleState) (string, bool) {
	for _, e := range transitions[from] {
		if e.to == to {
			return e.trigger, true
		}
	}
	return "", false
}

// TransitionContext carries actor identity and the optimistic-concurrency
// version the caller read. Apply, when set, mutates the record inside the
// same atomic write as the state change (ack number, correlation id, review
// trail).
type TransitionContext struct {
	ActorID   string
	ActorRole audit.ActorRole
	IP        string
	Version   int64
	Reason    string
	Apply     func(rec *models.FilingRecord)
}

// Machine applies sanctioned transitions. Every attempt, successful or not,
// produces exactly one audit event.
type Machine struct {
	store   store.Store
	trail   *audit.Trail
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(store store.Store, trail *audit.Trail, m *metrics.Metrics, logger *slog.Logger) *Machine {
	return &Machine{store: store, trail: trail, metrics: m, logger: logger}
}

// AttemptTransition moves the filing to target. It fails with
// invalid_transition when the edge is not in the table, and with
// concurrent_modification when tc.Version is stale; on success the state,
// derived legacy status, progress, version and one audit event commit as a
// single atomic unit.
func (m *Machine) AttemptTransition(ctx context.Context, filingID uuid.UUID, target models.LifecycleState, tc TransitionContext) (*models.FilingRecord, error) {
	var (
		updated        *models.FilingRecord
		fromState      models.LifecycleState
		appliedTrigger string
		// refusal is captured inside the transaction and audited after it,
		// because the rollback that follows a refused attempt would destroy
		// any event written inside.
		refusal *refusedAttempt
	)

	err := m.store.RunInTx(ctx, filingID, func(ctx context.Context) error {
		rec, err := m.store.Get(ctx, filingID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "filing not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load filing")
		}

		from := rec.LifecycleState
		fromState = from
		trigger, ok := triggerFor(from, target)
		if !ok || from.IsTerminal() {
			refusal = &refusedAttempt{from: from, version: rec.Version, reason: "invalid_transition"}
			m.metrics.IncrementRejected(string(from), string(target))
			return dErrors.New(dErrors.CodeInvalidTransition,
				fmt.Sprintf("illegal transition %s -> %s", from, target))
		}
		if target == models.StateCancelled && from == models.StateERIInProgress && rec.AckNumber != "" {
			refusal = &refusedAttempt{from: from, version: rec.Version, reason: "ack_already_recorded"}
			m.metrics.IncrementRejected(string(from), string(target))
			return dErrors.New(dErrors.CodeInvalidTransition,
				"cannot cancel: acknowledgment already recorded")
		}
		if rec.Version != tc.Version {
			refusal = &refusedAttempt{from: from, version: rec.Version, reason: "version_conflict"}
			m.metrics.IncrementVersionConflict()
			return dErrors.New(dErrors.CodeConcurrentModification,
				fmt.Sprintf("stale version %d, stored %d", tc.Version, rec.Version))
		}

		rec.LifecycleState = target
		applyProgress(rec, from, target)
		applySideEffects(rec, from, target, tc)
		if tc.Apply != nil {
			tc.Apply(rec)
		}

		if err := m.store.Update(ctx, rec, tc.Version); err != nil {
			if errors.Is(err, sentinel.ErrVersionMismatch) {
				refusal = &refusedAttempt{from: from, version: tc.Version, reason: "version_conflict"}
				m.metrics.IncrementVersionConflict()
				return dErrors.New(dErrors.CodeConcurrentModification, "filing modified concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist transition")
		}

		event := audit.Event{
			EntityType: audit.EntityFiling,
			EntityID:   filingID.String(),
			Action:     audit.ActionLifecycleTransition,
			ActorID:    tc.ActorID,
			ActorRole:  tc.ActorRole,
			IP:         tc.IP,
			Payload: audit.MarshalPayload(audit.TransitionPayload{
				From:    string(from),
				To:      string(target),
				Trigger: trigger,
				Reason:  tc.Reason,
				Version: rec.Version,
			}),
		}
		if err := m.trail.Append(ctx, event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append audit event")
		}

		updated = rec
		appliedTrigger = trigger
		return nil
	})
	if err != nil {
		if refusal != nil {
			m.auditRejected(ctx, filingID, target, tc, refusal)
		}
		return nil, err
	}

	m.metrics.IncrementTransition(string(fromState), string(updated.LifecycleState), appliedTrigger)
	m.logger.InfoContext(ctx, "filing state transition",
		"filing_id", filingID,
		"to", updated.LifecycleState,
		"version", updated.Version,
		"actor_role", tc.ActorRole,
	)
	return updated, nil
}

// refusedAttempt is the snapshot a failed transition leaves behind for the
// post-transaction audit write.
type refusedAttempt struct {
	from    models.LifecycleState
	version int64
	reason  string
}

// auditRejected records a refused transition attempt. It must run with a
// context that carries no transaction: the attempt's own transaction rolled
// back, and the refusal record has to survive that. Best effort beyond that;
// a rejected attempt changed no state, so a failed append only loses
// forensic detail.
func (m *Machine) auditRejected(ctx context.Context, filingID uuid.UUID, target models.LifecycleState, tc TransitionContext, refusal *refusedAttempt) {
	event := audit.Event{
		EntityType: audit.EntityFiling,
		EntityID:   filingID.String(),
		Action:     audit.ActionTransitionRejected,
		ActorID:    tc.ActorID,
		ActorRole:  tc.ActorRole,
		IP:         tc.IP,
		Payload: audit.MarshalPayload(audit.TransitionPayload{
			From:    string(refusal.from),
			To:      string(target),
			Reason:  refusal.reason,
			Version: refusal.version,
		}),
	}
	if err := m.trail.Append(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "audit append failed for rejected transition",
			"filing_id", filingID, "error", err)
	}
}

func applyProgress(rec *models.FilingRecord, from, to models.LifecycleState) {
	floor := stateProgress[to]
	switch {
	case to == models.StateCancelled:
		rec.Progress = 0
	case to == models.StateReadyToFile && from == models.StateERIFailed:
		// Explicit restart resets progress to the ready floor.
		rec.Progress = floor
	case floor > rec.Progress:
		rec.Progress = floor
	}
}

func applySideEffects(rec *models.FilingRecord, from, to models.LifecycleState, tc TransitionContext) {
	now := time.Now()
	switch to {
	case models.StateFiled:
		// filedAt/filedBy are set exactly once, on the single transition in.
		if rec.FiledAt == nil {
			rec.FiledAt = &now
			rec.FiledBy = tc.ActorID
			if rec.FiledBy == "" {
				rec.FiledBy = string(audit.RoleSystem)
			}
		}
		rec.RejectionReason = ""
	case models.StateERIFailed:
		rec.RejectionReason = tc.Reason
		rec.AckNumber = ""
	case models.StateReadyToFile:
		if from == models.StateERIFailed {
			// Successful resubmission clears the prior failure.
			rec.RejectionReason = ""
			rec.CorrelationID = ""
			rec.IdempotencyKey = ""
		}
	}
}

// TableVersion exposes the transition-table revision for status payloads and
// startup logging.
func TableVersion() string { return tableVersion }
