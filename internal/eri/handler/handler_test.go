package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri"
	"taxdesk/internal/eri/orchestrator"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/filing/models"
	"taxdesk/internal/filing/store"
	"taxdesk/internal/idempotency"
	"taxdesk/pkg/testutil"
)

const callbackToken = "shared-callback-secret"

type CallbackSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.InMemoryStore
	router chi.Router
}

func TestCallbackSuite(t *testing.T) {
	suite.Run(t, new(CallbackSuite))
}

func (s *CallbackSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	trail := audit.NewTrail(audit.NewInMemoryStore())
	logger := slog.New(slog.DiscardHandler)

	machine := lifecycle.New(s.store, trail, nil, logger)
	inline := orchestrator.NewInlineEnqueuer()
	orch := orchestrator.New(
		s.store, machine, trail, idempotency.NewInMemoryGuard(),
		eri.NewStubClient(), inline, nil, orchestrator.DefaultConfig(), logger,
	)
	inline.Bind(orch)

	h := New(orch, callbackToken, logger)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

// inFlightFiling stores a filing awaiting its acknowledgment.
func (s *CallbackSuite) inFlightFiling(correlationID string) *models.FilingRecord {
	rec := &models.FilingRecord{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		AssessmentYear: "2024-25",
		TaxpayerPAN:    "ABCDE1234P",
		FormType:       "ITR-1",
		Payload:        json.RawMessage(`{"personalInfo":{}}`),
		LifecycleState: models.StateERIInProgress,
		Progress:       70,
		IdempotencyKey: "key-" + correlationID,
	}
	s.Require().NoError(s.store.Create(s.ctx, rec))
	rec.CorrelationID = correlationID
	s.Require().NoError(s.store.Update(s.ctx, rec, rec.Version))
	return rec
}

func (s *CallbackSuite) callback(token string, body any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/eri/callback", body)
	if token != "" {
		req.Header.Set("X-Callback-Token", token)
	}
	return req
}

func (s *CallbackSuite) TestTokenEnforcement() {
	s.Run("missing token", func() {
		rr := testutil.DoRequest(s.router, s.callback("", map[string]any{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("wrong token", func() {
		rr := testutil.DoRequest(s.router, s.callback("wrong", map[string]any{}))
		s.Equal(http.StatusUnauthorized, rr.Code)
	})
}

func (s *CallbackSuite) TestAcknowledgedCallback() {
	rec := s.inFlightFiling("ERI-CB-1")

	rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
		"correlation_id":        "ERI-CB-1",
		"status":                "ACKNOWLEDGED",
		"acknowledgment_number": "ACK-445566",
	}))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	stored, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.StateFiled, stored.LifecycleState)
	s.Equal("ACK-445566", stored.AckNumber)
	s.Equal(100, stored.Progress)
}

func (s *CallbackSuite) TestRejectedCallback() {
	rec := s.inFlightFiling("ERI-CB-2")

	rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
		"correlation_id": "ERI-CB-2",
		"status":         "REJECTED",
		"error_message":  "ERI_REJECTED: arithmetic mismatch",
	}))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	stored, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.StateERIFailed, stored.LifecycleState)
	s.Equal("ERI_REJECTED: arithmetic mismatch", stored.RejectionReason)
}

func (s *CallbackSuite) TestCallbackValidation() {
	s.Run("unknown correlation id", func() {
		rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
			"correlation_id": "ERI-NOPE",
			"status":         "ACKNOWLEDGED",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("missing correlation id", func() {
		rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
			"status": "ACKNOWLEDGED",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown status", func() {
		s.inFlightFiling("ERI-CB-3")
		rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
			"correlation_id": "ERI-CB-3",
			"status":         "MAYBE",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("malformed ack number", func() {
		s.inFlightFiling("ERI-CB-4")
		rr := testutil.DoRequest(s.router, s.callback(callbackToken, map[string]any{
			"correlation_id":        "ERI-CB-4",
			"status":                "ACKNOWLEDGED",
			"acknowledgment_number": "x",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *CallbackSuite) TestRedeliveredAcknowledgment() {
	rec := s.inFlightFiling("ERI-CB-5")

	body := map[string]any{
		"correlation_id":        "ERI-CB-5",
		"status":                "ACKNOWLEDGED",
		"acknowledgment_number": "ACK-998877",
	}
	rr := testutil.DoRequest(s.router, s.callback(callbackToken, body))
	s.Require().Equal(http.StatusOK, rr.Code)

	rr = testutil.DoRequest(s.router, s.callback(callbackToken, body))
	s.Equal(http.StatusOK, rr.Code, "gateway redelivery is acknowledged, not errored")

	stored, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.StateFiled, stored.LifecycleState)
}
