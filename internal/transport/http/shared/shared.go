// Package shared holds response helpers used by every HTTP handler.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "taxdesk/pkg/domain-errors"
)

// ErrorEnvelope is the JSON error body returned by all endpoints.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError translates a domain error into the HTTP error envelope.
// Non-domain errors are masked as internal.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		WriteJSON(w, http.StatusInternalServerError, ErrorEnvelope{Error: string(dErrors.CodeInternal)})
		return
	}
	WriteJSON(w, dErrors.ToHTTPStatus(de.Code), ErrorEnvelope{
		Error:   string(de.Code),
		Message: de.Message,
	})
}
