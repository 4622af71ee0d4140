// Package handler is the HTTP layer for filing lifecycle operations. It
// delegates to the filing service and the submission orchestrator; no
// business rules live here.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri/orchestrator"
	"taxdesk/internal/filing/projection"
	"taxdesk/internal/filing/service"
	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/transport/http/shared"
	dErrors "taxdesk/pkg/domain-errors"
)

// Handler handles filing endpoints.
type Handler struct {
	logger       *slog.Logger
	filings      *service.Service
	orch         *orchestrator.Orchestrator
	projector    *projection.Projector
	trail        *audit.Trail
	jwtValidator middleware.JWTValidator
}

func New(
	filings *service.Service,
	orch *orchestrator.Orchestrator,
	projector *projection.Projector,
	trail *audit.Trail,
	jwtValidator middleware.JWTValidator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		logger:       logger,
		filings:      filings,
		orch:         orch,
		projector:    projector,
		trail:        trail,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the filing routes with the full middleware chain.
func (h *Handler) Register(r chi.Router) {
	fr := chi.NewRouter()
	fr.Use(middleware.Recovery(h.logger))
	fr.Use(middleware.RequestID)
	fr.Use(middleware.Logger(h.logger))
	fr.Use(middleware.Timeout(30 * time.Second))
	fr.Use(middleware.ContentTypeJSON)
	fr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	fr.Post("/", h.handleCreate)
	fr.Put("/{id}", h.handleUpdateDraft)
	fr.Post("/{id}/ready", h.handleMarkReady)
	fr.Post("/{id}/route-to-ca", h.handleRouteToCA)
	fr.Post("/{id}/approve", h.handleApprove)
	fr.Post("/{id}/cancel", h.handleCancel)
	fr.Post("/{id}/resubmit", h.handleResubmit)
	fr.Post("/{id}/submit", h.handleSubmit)
	fr.Get("/{id}/status", h.handleStatus)
	fr.Get("/{id}/audit", h.handleAuditTrail)

	r.Mount("/filings", fr)
}

func actorFrom(r *http.Request) service.Actor {
	ctx := r.Context()
	return service.Actor{
		ID:   middleware.GetUserID(ctx),
		Role: audit.ActorRole(middleware.GetRole(ctx)),
		IP:   middleware.GetClientIP(ctx),
	}
}

func filingID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "malformed filing id")
	}
	return id, nil
}

type createRequest struct {
	AssessmentYear string          `json:"assessment_year"`
	TaxpayerPAN    string          `json:"taxpayer_pan"`
	FormType       string          `json:"form_type"`
	Payload        json.RawMessage `json:"payload"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	userID, err := uuid.Parse(actor.ID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "malformed user id in token"))
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	rec, err := h.filings.Create(r.Context(), service.CreateParams{
		UserID:         userID,
		AssessmentYear: req.AssessmentYear,
		TaxpayerPAN:    req.TaxpayerPAN,
		FormType:       req.FormType,
		Payload:        req.Payload,
	}, actor)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, projection.Project(rec))
}

type updateDraftRequest struct {
	Payload json.RawMessage `json:"payload"`
	Version int64           `json:"version"`
}

func (h *Handler) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	id, err := filingID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req updateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.filings.UpdateDraft(r.Context(), id, req.Payload, req.Version, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

type transitionRequest struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) decodeTransition(w http.ResponseWriter, r *http.Request) (uuid.UUID, transitionRequest, bool) {
	id, err := filingID(r)
	if err != nil {
		shared.WriteError(w, err)
		return uuid.Nil, transitionRequest{}, false
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return uuid.Nil, transitionRequest{}, false
	}
	return id, req, true
}

func (h *Handler) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	rec, err := h.filings.MarkReady(r.Context(), id, req.Version, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

func (h *Handler) handleRouteToCA(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	rec, err := h.filings.RouteToCA(r.Context(), id, req.Version, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	rec, err := h.filings.Approve(r.Context(), id, req.Version, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	rec, err := h.filings.Cancel(r.Context(), id, req.Version, req.Reason, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	rec, err := h.filings.Resubmit(r.Context(), id, req.Version, actorFrom(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection.Project(rec))
}

type submitResponse struct {
	FilingID     string `json:"filing_id"`
	State        string `json:"state"`
	Deduplicated bool   `json:"deduplicated"`
	Outcome      any    `json:"outcome,omitempty"`
}

// handleSubmit starts the gateway submission. The Idempotency-Key header is
// mandatory; repeating it returns the first request's outcome with 200
// instead of starting a second submission.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := filingID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key header is required"))
		return
	}

	actor := actorFrom(r)
	result, err := h.orch.Submit(r.Context(), id, key, orchestrator.Actor{
		ID:   actor.ID,
		Role: actor.Role,
		IP:   actor.IP,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Deduplicated {
		status = http.StatusOK
	}
	resp := submitResponse{
		FilingID:     result.FilingID.String(),
		State:        string(result.State),
		Deduplicated: result.Deduplicated,
	}
	if result.Outcome != nil {
		resp.Outcome = result.Outcome
	}
	shared.WriteJSON(w, status, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := filingID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	ctx := r.Context()
	view, err := h.projector.Status(ctx, id, middleware.GetUserID(ctx), audit.ActorRole(middleware.GetRole(ctx)))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, view)
}

// handleAuditTrail returns the filing's audit history. Ownership is enforced
// the same way as status reads.
func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := filingID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)
	if _, err := h.filings.Get(ctx, id, actor); err != nil {
		shared.WriteError(w, err)
		return
	}
	events, err := h.trail.QueryByEntity(ctx, audit.EntityFiling, id.String())
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "load audit trail"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
