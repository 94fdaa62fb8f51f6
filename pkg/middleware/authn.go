package middleware

import (
	"context"
	"net/http"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/contextkeys"
	"github.com/openwearlab/studygate/pkg/delegated"
	"github.com/openwearlab/studygate/pkg/httputil"
	"github.com/openwearlab/studygate/pkg/observability"
	"github.com/openwearlab/studygate/pkg/session"
)

// Authentication resolves the request's principal. The first-party
// session cookie wins when present; otherwise the delegated credential
// cookies are tried against each configured controller. A refresh
// performed along the way resets the token cookies on the response.
type Authentication struct {
	Sessions     *session.Service
	Controllers  []*delegated.Controller
	CookieDomain string
	Metrics      *observability.Metrics
	Logger       *observability.Logger
}

// PrincipalFrom returns the authenticated principal stored by the
// Authentication handler.
func PrincipalFrom(ctx context.Context) (accounts.Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(accounts.Principal)
	return principal, ok
}

// SessionClaimsFrom returns the validated session claims, present only
// when the session-cookie path authenticated the request.
func SessionClaimsFrom(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(contextkeys.SessionClaimsKey).(*session.Claims)
	return claims, ok
}

func (a *Authentication) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := session.FromRequest(r); token != "" {
			principal, claims, err := a.Sessions.ValidateSession(ctx, token)
			if err != nil {
				a.reject(w, r, err)
				return
			}
			ctx = contextkeys.WithPrincipal(ctx, principal)
			ctx = contextkeys.WithSessionClaims(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		idToken, _, refreshToken := delegated.TokensFromRequest(r)
		if idToken == "" && refreshToken == "" {
			a.reject(w, r, autherr.New(autherr.KindUnauthenticated, "no credentials presented"))
			return
		}

		var lastErr error
		for _, controller := range a.Controllers {
			principal, refreshed, err := controller.AuthenticateTokens(ctx, idToken, refreshToken)
			if err != nil {
				lastErr = err
				// A token from another pool fails signature or issuer
				// checks; anything else is final for this request.
				if autherr.IsKind(err, autherr.KindInvalidToken) {
					continue
				}
				break
			}
			if refreshed != nil {
				delegated.SetTokenCookies(w, refreshed, a.CookieDomain)
			}
			ctx = contextkeys.WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		a.reject(w, r, lastErr)
	})
}

func (a *Authentication) reject(w http.ResponseWriter, r *http.Request, err error) {
	kind := autherr.KindOf(err)
	if a.Metrics != nil {
		a.Metrics.AuthFailuresTotal.WithLabelValues(string(kind)).Inc()
	}
	if a.Logger != nil {
		a.Logger.WithFields(map[string]interface{}{
			"error_kind": string(kind),
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Warn("request authentication failed")
	}
	httputil.WriteAuthError(w, err)
}
