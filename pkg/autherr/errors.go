package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an authentication or authorization failure. The string
// value is the machine-readable errorCode returned to clients.
type Kind string

const (
	// KindUnauthenticated means no credential, or one that could not be parsed.
	KindUnauthenticated Kind = "unauthenticated"
	// KindExpired means the credential was well-formed but past its validity window.
	KindExpired Kind = "expired"
	// KindRevoked means the session was explicitly invalidated.
	KindRevoked Kind = "revoked"
	// KindMissingCsrf means a mutating request arrived without the CSRF header.
	KindMissingCsrf Kind = "missing_csrf"
	// KindStateMismatch means the OAuth2 state parameter did not match the stored value.
	KindStateMismatch Kind = "state_mismatch"
	// KindMissingCode means the authorization callback carried no code.
	KindMissingCode Kind = "missing_code"
	// KindInvalidToken covers signature, issuer, audience, and kid failures.
	KindInvalidToken Kind = "invalid_token"
	// KindAccountArchived means the mapped account exists but has been archived.
	KindAccountArchived Kind = "account_archived"
	// KindAccountNotFound means no account matched the verified identity claims.
	KindAccountNotFound Kind = "account_not_found"
	// KindUnauthorized means the principal authenticated but was denied by the resolver.
	KindUnauthorized Kind = "unauthorized"
	// KindRefreshFailed means the refresh-token grant was rejected by the issuer.
	KindRefreshFailed Kind = "refresh_failed"
	// KindMissingRefreshToken means a refresh was needed but no refresh token was present.
	KindMissingRefreshToken Kind = "missing_refresh_token"
	// KindProviderTokenNotFound means no stored token bundle exists for the
	// (external API, principal) pair.
	KindProviderTokenNotFound Kind = "provider_token_not_found"
)

// Error is the concrete error type carried through denial paths.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two autherr values by Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Errors that do not carry a
// Kind report KindUnauthenticated, keeping unknown failures fail-closed.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnauthenticated
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus returns the response status for a kind. Authentication and
// token failures are 401; Unauthorized and MissingCsrf are 403 so clients
// can tell "who are you" from "you may not".
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized, KindMissingCsrf:
		return http.StatusForbidden
	case KindProviderTokenNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnauthorized
	}
}

// UserFacing returns the errorCode and message to place in a response body.
// AccountArchived and AccountNotFound collapse to the same generic pair;
// the true kind is only ever written to logs.
func UserFacing(kind Kind) (code string, msg string) {
	switch kind {
	case KindAccountArchived, KindAccountNotFound:
		return "account_not_authorized", "this account is not authorized to sign in"
	case KindUnauthorized:
		return string(kind), "you do not have permission to perform this action"
	case KindMissingCsrf:
		return string(kind), "missing CSRF token"
	case KindExpired:
		return string(kind), "your session has expired"
	case KindRevoked:
		return string(kind), "your session has been revoked"
	default:
		return string(kind), "authentication failed"
	}
}
