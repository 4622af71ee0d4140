// Package projection derives the read-only status view of a filing. The
// projection is pure: it reports persisted state and never mutates it.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/sentinel"
)

// Project maps a filing record to its external status view. The
// acknowledgment number appears iff the filing reached the acknowledged or
// filed state; the rejection reason appears iff the filing sits in the failed
// state.
func Project(rec *models.FilingRecord) models.StatusView {
	view := models.StatusView{
		FilingID:       rec.ID.String(),
		AssessmentYear: rec.AssessmentYear,
		State:          string(rec.LifecycleState),
		Status:         string(rec.LegacyStatus),
		Progress:       rec.Progress,
		LastUpdated:    rec.LastUpdated.UTC().Format(time.RFC3339),
	}
	switch rec.LifecycleState {
	case models.StateERIAckReceived, models.StateFiled:
		view.AckNumber = rec.AckNumber
	case models.StateERIFailed:
		view.RejectionReason = rec.RejectionReason
	}
	if rec.FiledAt != nil {
		filedAt := rec.FiledAt.UTC().Format(time.RFC3339)
		view.FiledAt = &filedAt
	}
	return view
}

// Projector serves status views with ownership enforcement.
type Projector struct {
	store store.Store
}

func New(st store.Store) *Projector {
	return &Projector{store: st}
}

// Status returns the filing's status view. End users only see their own
// filings; reviewers and admins see all.
func (p *Projector) Status(ctx context.Context, filingID uuid.UUID, callerID string, role audit.ActorRole) (*models.StatusView, error) {
	rec, err := p.store.Get(ctx, filingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "filing not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load filing")
	}
	if role == audit.RoleEndUser && rec.UserID.String() != callerID {
		return nil, dErrors.New(dErrors.CodeAuthorization, "filing belongs to another user")
	}
	view := Project(rec)
	return &view, nil
}
