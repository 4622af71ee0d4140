// Package domainerrors defines the coded error type surfaced across service
// boundaries. Services translate sentinel infrastructure errors into these;
// the HTTP layer translates codes into status codes via ToHTTPStatus.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure. Codes are stable and appear in
// API error envelopes, so renaming one is a breaking change.
type Code string

const (
	CodeBadRequest             Code = "bad_request"
	CodeValidation             Code = "validation_error"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeConcurrentModification Code = "concurrent_modification"
	CodeDuplicateKey           Code = "duplicate_key"
	CodeGatewayRejected        Code = "gateway_rejected"
	CodeGatewayUnavailable     Code = "gateway_unavailable"
	CodeAckTimeout             Code = "ack_timeout"
	CodeUnauthorized           Code = "unauthorized"
	CodeAuthorization          Code = "authorization_error"
	CodeNotFound               Code = "not_found"
	CodeTimeout                Code = "timeout"
	CodeInternal               Code = "internal"
)

// Error is a coded domain error. The wrapped cause, if any, is preserved for
// errors.Is / errors.As chains.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeConcurrentModification, CodeDuplicateKey:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout, CodeAckTimeout:
		return http.StatusGatewayTimeout
	case CodeGatewayRejected:
		return http.StatusBadGateway
	case CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
