// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *accounts.Principal
	// Set by: middleware.Authentication (pkg/middleware/authn.go)
	// Required by: CSRF and authorization steps, all protected endpoints
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID middleware
	// Used by: Logger, denial audit lines
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	LoggerKey Key = "logger"

	// SessionClaimsKey contains *session.Claims for first-party sessions
	// Set by: middleware.Authentication when the session cookie path is used
	// Required by: CSRF double-submit check on mutating requests
	SessionClaimsKey Key = "session_claims"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithSessionClaims adds the validated session claims to the context
func WithSessionClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, SessionClaimsKey, claims)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
