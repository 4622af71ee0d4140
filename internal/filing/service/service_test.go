package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"taxdesk/internal/audit"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	dErrors "taxdesk/pkg/domain-errors"
)

const completePayload = `{
	"personalInfo": {"name": "Asha Rao"},
	"incomeDetails": {"salary": 1250000},
	"taxComputation": {"taxPayable": 94500}
}`

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemoryStore
	trail   *audit.Trail
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	s.trail = audit.NewTrail(audit.NewInMemoryStore())
	logger := slog.New(slog.DiscardHandler)
	machine := lifecycle.New(s.store, s.trail, nil, logger)
	s.service = New(s.store, machine, s.trail, DefaultChecker{}, nil, logger)
}

func (s *ServiceSuite) ownerActor(userID uuid.UUID) Actor {
	return Actor{ID: userID.String(), Role: audit.RoleEndUser, IP: "203.0.113.9"}
}

func (s *ServiceSuite) createDraft(userID uuid.UUID) *models.FilingRecord {
	rec, err := s.service.Create(s.ctx, CreateParams{
		UserID:         userID,
		AssessmentYear: "2024-25",
		TaxpayerPAN:    "ABCDE1234P",
		FormType:       "ITR-1",
		Payload:        json.RawMessage(completePayload),
	}, s.ownerActor(userID))
	s.Require().NoError(err)
	return rec
}

func (s *ServiceSuite) TestCreate() {
	userID := uuid.New()
	rec := s.createDraft(userID)

	s.Equal(models.StateDraftInit, rec.LifecycleState)
	s.Equal(models.LegacyDraft, rec.LegacyStatus)
	s.Equal(10, rec.Progress)
	s.Equal(int64(1), rec.Version)

	events, err := s.trail.QueryByEntity(s.ctx, audit.EntityFiling, rec.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionLifecycleTransition, events[0].Action)
}

func (s *ServiceSuite) TestCreateValidation() {
	userID := uuid.New()
	base := CreateParams{
		UserID:         userID,
		AssessmentYear: "2024-25",
		TaxpayerPAN:    "ABCDE1234P",
		FormType:       "ITR-1",
	}

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		code   dErrors.Code
	}{
		{"missing user", func(p *CreateParams) { p.UserID = uuid.Nil }, dErrors.CodeValidation},
		{"bad pan", func(p *CreateParams) { p.TaxpayerPAN = "1234ABCDE" }, dErrors.CodeValidation},
		{"lowercase pan", func(p *CreateParams) { p.TaxpayerPAN = "abcde1234p" }, dErrors.CodeValidation},
		{"bad assessment year", func(p *CreateParams) { p.AssessmentYear = "2024" }, dErrors.CodeValidation},
		{"non-consecutive year", func(p *CreateParams) { p.AssessmentYear = "2024-26" }, dErrors.CodeValidation},
		{"unknown form type", func(p *CreateParams) { p.FormType = "ITR-9" }, dErrors.CodeValidation},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			p := base
			tc.mutate(&p)
			_, err := s.service.Create(s.ctx, p, s.ownerActor(userID))
			s.Equal(tc.code, dErrors.CodeOf(err))
		})
	}

	s.Run("end user cannot create for someone else", func() {
		_, err := s.service.Create(s.ctx, base, s.ownerActor(uuid.New()))
		s.Equal(dErrors.CodeAuthorization, dErrors.CodeOf(err))
	})

	s.Run("admin may create on behalf of a user", func() {
		_, err := s.service.Create(s.ctx, base, Actor{ID: uuid.NewString(), Role: audit.RoleAdmin})
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestUpdateDraft() {
	userID := uuid.New()
	rec := s.createDraft(userID)
	actor := s.ownerActor(userID)

	s.Run("replaces payload and bumps version", func() {
		updated, err := s.service.UpdateDraft(s.ctx, rec.ID, json.RawMessage(`{"personalInfo":{"name":"A"}}`), rec.Version, actor)
		s.Require().NoError(err)
		s.Equal(int64(2), updated.Version)
		s.JSONEq(`{"personalInfo":{"name":"A"}}`, string(updated.Payload))
	})

	s.Run("stale version is refused", func() {
		_, err := s.service.UpdateDraft(s.ctx, rec.ID, json.RawMessage(`{}`), 1, actor)
		s.Equal(dErrors.CodeConcurrentModification, dErrors.CodeOf(err))
	})

	s.Run("foreign filing is refused", func() {
		_, err := s.service.UpdateDraft(s.ctx, rec.ID, json.RawMessage(`{}`), 2, s.ownerActor(uuid.New()))
		s.Equal(dErrors.CodeAuthorization, dErrors.CodeOf(err))
	})

	s.Run("not editable once in flight", func() {
		flight := s.createDraft(userID)
		_, err := s.service.MarkReady(s.ctx, flight.ID, flight.Version, actor)
		s.Require().NoError(err)
		current, err := s.service.Get(s.ctx, flight.ID, actor)
		s.Require().NoError(err)

		// Still editable while ready.
		_, err = s.service.UpdateDraft(s.ctx, flight.ID, json.RawMessage(completePayload), current.Version, actor)
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestMarkReadyPrerequisites() {
	userID := uuid.New()
	actor := s.ownerActor(userID)

	s.Run("complete draft passes", func() {
		rec := s.createDraft(userID)
		ready, err := s.service.MarkReady(s.ctx, rec.ID, rec.Version, actor)
		s.Require().NoError(err)
		s.Equal(models.StateReadyToFile, ready.LifecycleState)
		s.Equal(25, ready.Progress)
	})

	s.Run("missing section fails", func() {
		rec := s.createDraft(userID)
		_, err := s.service.UpdateDraft(s.ctx, rec.ID, json.RawMessage(`{"personalInfo":{}}`), rec.Version, actor)
		s.Require().NoError(err)
		current, err := s.service.Get(s.ctx, rec.ID, actor)
		s.Require().NoError(err)

		_, err = s.service.MarkReady(s.ctx, rec.ID, current.Version, actor)
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})

	s.Run("null section fails", func() {
		rec := s.createDraft(userID)
		payload := `{"personalInfo":{},"incomeDetails":null,"taxComputation":{}}`
		_, err := s.service.UpdateDraft(s.ctx, rec.ID, json.RawMessage(payload), rec.Version, actor)
		s.Require().NoError(err)
		current, err := s.service.Get(s.ctx, rec.ID, actor)
		s.Require().NoError(err)

		_, err = s.service.MarkReady(s.ctx, rec.ID, current.Version, actor)
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestApprove() {
	userID := uuid.New()
	actor := s.ownerActor(userID)
	rec := s.createDraft(userID)

	ready, err := s.service.MarkReady(s.ctx, rec.ID, rec.Version, actor)
	s.Require().NoError(err)
	routed, err := s.service.RouteToCA(s.ctx, rec.ID, ready.Version, actor)
	s.Require().NoError(err)

	s.Run("end user cannot approve", func() {
		_, err := s.service.Approve(s.ctx, rec.ID, routed.Version, actor)
		s.Equal(dErrors.CodeAuthorization, dErrors.CodeOf(err))
	})

	s.Run("reviewer approval records sign-off", func() {
		reviewerID := uuid.New()
		approved, err := s.service.Approve(s.ctx, rec.ID, routed.Version, Actor{ID: reviewerID.String(), Role: audit.RoleReviewer})
		s.Require().NoError(err)
		s.Equal(models.StateCAApproved, approved.LifecycleState)
		s.Require().NotNil(approved.ReviewedBy)
		s.Equal(reviewerID, *approved.ReviewedBy)
		s.Require().NotNil(approved.ApprovedAt)
	})
}

func (s *ServiceSuite) TestCancelAndResubmit() {
	userID := uuid.New()
	actor := s.ownerActor(userID)

	s.Run("draft cancels with reason", func() {
		rec := s.createDraft(userID)
		cancelled, err := s.service.Cancel(s.ctx, rec.ID, rec.Version, "changed my mind", actor)
		s.Require().NoError(err)
		s.Equal(models.StateCancelled, cancelled.LifecycleState)
		s.Equal(0, cancelled.Progress)
	})

	s.Run("failed filing resubmits clean", func() {
		rec := s.createDraft(userID)
		ready, err := s.service.MarkReady(s.ctx, rec.ID, rec.Version, actor)
		s.Require().NoError(err)

		ready.LifecycleState = models.StateERIFailed
		ready.RejectionReason = models.ReasonGatewayUnavailable
		s.Require().NoError(s.store.Update(s.ctx, ready, ready.Version))

		resubmitted, err := s.service.Resubmit(s.ctx, rec.ID, ready.Version, actor)
		s.Require().NoError(err)
		s.Equal(models.StateReadyToFile, resubmitted.LifecycleState)
		s.Empty(resubmitted.RejectionReason)
		s.Equal(25, resubmitted.Progress)
	})
}

func (s *ServiceSuite) TestGetUnknownFiling() {
	_, err := s.service.Get(s.ctx, uuid.New(), s.ownerActor(uuid.New()))
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}
