// Package service exposes the filing lifecycle operations behind the HTTP
// layer: draft creation, readiness, review routing, approval, cancellation
// and resubmission. Authority checks live here; the state machine only rules
// on edges.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/filing/metrics"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/sentinel"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   string
	Role audit.ActorRole
	IP   string
}

// PrerequisiteChecker decides whether a draft is complete enough to file.
type PrerequisiteChecker interface {
	Check(ctx context.Context, rec *models.FilingRecord) error
}

// Service coordinates filing operations outside the gateway submission flow.
type Service struct {
	store   store.Store
	machine *lifecycle.Machine
	trail   *audit.Trail
	prereq  PrerequisiteChecker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(st store.Store, machine *lifecycle.Machine, trail *audit.Trail, prereq PrerequisiteChecker, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{store: st, machine: machine, trail: trail, prereq: prereq, metrics: m, logger: logger}
}

// CreateParams are the inputs for a new draft filing.
type CreateParams struct {
	UserID         uuid.UUID
	AssessmentYear string
	TaxpayerPAN    string
	FormType       string
	Payload        json.RawMessage
}

var allowedFormTypes = map[string]bool{
	"ITR-1": true, "ITR-2": true, "ITR-3": true, "ITR-4": true,
}

// Create opens a new draft filing for the user.
func (s *Service) Create(ctx context.Context, p CreateParams, actor Actor) (*models.FilingRecord, error) {
	switch {
	case p.UserID == uuid.Nil:
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	case !models.ValidPAN(p.TaxpayerPAN):
		return nil, dErrors.New(dErrors.CodeValidation, "malformed PAN")
	case !models.ValidAssessmentYear(p.AssessmentYear):
		return nil, dErrors.New(dErrors.CodeValidation, "malformed assessment year")
	case !allowedFormTypes[p.FormType]:
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported form type %q", p.FormType))
	}
	if actor.Role == audit.RoleEndUser && actor.ID != p.UserID.String() {
		return nil, dErrors.New(dErrors.CodeAuthorization, "cannot create a filing for another user")
	}

	now := time.Now()
	rec := &models.FilingRecord{
		ID:             uuid.New(),
		UserID:         p.UserID,
		AssessmentYear: p.AssessmentYear,
		TaxpayerPAN:    p.TaxpayerPAN,
		FormType:       p.FormType,
		Payload:        p.Payload,
		LifecycleState: models.StateDraftInit,
		LegacyStatus:   models.DeriveLegacyStatus(models.StateDraftInit),
		Progress:       10,
		Version:        1,
		LastUpdated:    now,
		CreatedAt:      now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeDuplicateKey, "filing already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create filing")
	}

	event := audit.Event{
		EntityType: audit.EntityFiling,
		EntityID:   rec.ID.String(),
		Action:     audit.ActionLifecycleTransition,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		IP:         actor.IP,
		Payload: audit.MarshalPayload(audit.TransitionPayload{
			To:      string(models.StateDraftInit),
			Trigger: "created",
			Version: rec.Version,
		}),
	}
	if err := s.trail.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit append failed for filing creation", "filing_id", rec.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "filing created",
		"filing_id", rec.ID,
		"user_id", rec.UserID,
		"pan", models.MaskPAN(rec.TaxpayerPAN),
		"assessment_year", rec.AssessmentYear,
	)
	return rec, nil
}

// UpdateDraft replaces the payload of a draft filing.
func (s *Service) UpdateDraft(ctx context.Context, filingID uuid.UUID, payload json.RawMessage, version int64, actor Actor) (*models.FilingRecord, error) {
	var updated *models.FilingRecord
	err := s.store.RunInTx(ctx, filingID, func(ctx context.Context) error {
		rec, err := s.load(ctx, filingID, actor)
		if err != nil {
			return err
		}
		if rec.LifecycleState != models.StateDraftInit && rec.LifecycleState != models.StateReadyToFile {
			return dErrors.New(dErrors.CodeInvalidTransition, "filing is no longer editable")
		}
		if rec.Version != version {
			return dErrors.New(dErrors.CodeConcurrentModification, "filing modified concurrently")
		}
		rec.Payload = payload
		if err := s.store.Update(ctx, rec, version); err != nil {
			if errors.Is(err, sentinel.ErrVersionMismatch) {
				s.metrics.IncrementVersionConflict()
				return dErrors.New(dErrors.CodeConcurrentModification, "filing modified concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "update draft")
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkReady verifies the draft's prerequisites and moves it to the ready
// state.
func (s *Service) MarkReady(ctx context.Context, filingID uuid.UUID, version int64, actor Actor) (*models.FilingRecord, error) {
	rec, err := s.load(ctx, filingID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.prereq.Check(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "filing prerequisites not met")
	}
	return s.transition(ctx, filingID, models.StateReadyToFile, version, actor, "")
}

// RouteToCA sends a ready filing into professional review.
func (s *Service) RouteToCA(ctx context.Context, filingID uuid.UUID, version int64, actor Actor) (*models.FilingRecord, error) {
	if _, err := s.load(ctx, filingID, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, filingID, models.StateSubmittedToCA, version, actor, "")
}

// Approve records reviewer sign-off on a filing under review.
func (s *Service) Approve(ctx context.Context, filingID uuid.UUID, version int64, actor Actor) (*models.FilingRecord, error) {
	if actor.Role != audit.RoleReviewer && actor.Role != audit.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeAuthorization, "approval requires a reviewer")
	}
	reviewerID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "malformed reviewer id")
	}
	return s.machine.AttemptTransition(ctx, filingID, models.StateCAApproved, lifecycle.TransitionContext{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		IP:        actor.IP,
		Version:   version,
		Apply: func(r *models.FilingRecord) {
			now := time.Now()
			r.ReviewedBy = &reviewerID
			r.ReviewedAt = &now
			r.ApprovedBy = &reviewerID
			r.ApprovedAt = &now
		},
	})
}

// Cancel abandons a filing. Refused once an acknowledgment exists; e-filing
// has externally occurred at that point.
func (s *Service) Cancel(ctx context.Context, filingID uuid.UUID, version int64, reason string, actor Actor) (*models.FilingRecord, error) {
	if _, err := s.load(ctx, filingID, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, filingID, models.StateCancelled, version, actor, reason)
}

// Resubmit returns a failed filing to the ready state, clearing the prior
// failure so a fresh submission starts clean.
func (s *Service) Resubmit(ctx context.Context, filingID uuid.UUID, version int64, actor Actor) (*models.FilingRecord, error) {
	if _, err := s.load(ctx, filingID, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, filingID, models.StateReadyToFile, version, actor, "")
}

// Get returns a filing visible to the actor.
func (s *Service) Get(ctx context.Context, filingID uuid.UUID, actor Actor) (*models.FilingRecord, error) {
	return s.load(ctx, filingID, actor)
}

func (s *Service) transition(ctx context.Context, filingID uuid.UUID, target models.LifecycleState, version int64, actor Actor, reason string) (*models.FilingRecord, error) {
	return s.machine.AttemptTransition(ctx, filingID, target, lifecycle.TransitionContext{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		IP:        actor.IP,
		Version:   version,
		Reason:    reason,
	})
}

// load fetches a filing and enforces ownership for end users. Reviewers and
// admins see every filing.
func (s *Service) load(ctx context.Context, filingID uuid.UUID, actor Actor) (*models.FilingRecord, error) {
	rec, err := s.store.Get(ctx, filingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "filing not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load filing")
	}
	if actor.Role == audit.RoleEndUser && rec.UserID.String() != actor.ID {
		return nil, dErrors.New(dErrors.CodeAuthorization, "filing belongs to another user")
	}
	return rec, nil
}
