package testutil

import (
	"context"
	"net/http"

	"taxdesk/internal/platform/middleware"
)

// WithAuth injects an authenticated caller into the request context,
// simulating what the auth middleware does after token validation.
func WithAuth(req *http.Request, userID, role string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		ctx = context.WithValue(ctx, middleware.ContextKeyUserID, userID)
	}
	if role != "" {
		ctx = context.WithValue(ctx, middleware.ContextKeyRole, role)
	}
	return req.WithContext(ctx)
}

// WithRequestID injects a request ID into the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.ContextKeyRequestID, requestID)
	return req.WithContext(ctx)
}
