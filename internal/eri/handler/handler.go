// Package handler is the HTTP surface for gateway callbacks.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"taxdesk/internal/eri/orchestrator"
	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/transport/http/shared"
	dErrors "taxdesk/pkg/domain-errors"
)

// Handler receives acknowledgment pushes from the gateway.
type Handler struct {
	logger        *slog.Logger
	orch          *orchestrator.Orchestrator
	callbackToken string
}

func New(orch *orchestrator.Orchestrator, callbackToken string, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, orch: orch, callbackToken: callbackToken}
}

// Register mounts the callback route. The gateway authenticates with a shared
// token, not a user JWT.
func (h *Handler) Register(r chi.Router) {
	cr := chi.NewRouter()
	cr.Use(middleware.Recovery(h.logger))
	cr.Use(middleware.RequestID)
	cr.Use(middleware.Logger(h.logger))
	cr.Use(middleware.Timeout(15 * time.Second))
	cr.Use(middleware.ContentTypeJSON)
	cr.Post("/callback", h.handleCallback)

	r.Mount("/eri", cr)
}

type callbackRequest struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"` // ACKNOWLEDGED | REJECTED
	AckNumber     string `json:"acknowledgment_number"`
	ErrorMessage  string `json:"error_message"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.Header.Get("X-Callback-Token")
	if h.callbackToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
		h.logger.WarnContext(ctx, "callback with invalid token",
			"request_id", middleware.GetRequestID(ctx))
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid callback token"))
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.CorrelationID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "correlation_id is required"))
		return
	}

	rec, err := h.orch.FilingByCorrelation(ctx, req.CorrelationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	switch req.Status {
	case "ACKNOWLEDGED":
		filed, err := h.orch.HandleAck(ctx, rec.ID, req.AckNumber, orchestrator.AckSourceCallback)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, map[string]string{
			"filing_id": filed.ID.String(),
			"state":     string(filed.LifecycleState),
		})
	case "REJECTED":
		if err := h.orch.HandleCallbackRejection(ctx, rec.ID, req.ErrorMessage); err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, map[string]string{
			"filing_id": rec.ID.String(),
		})
	default:
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown callback status"))
	}
}
