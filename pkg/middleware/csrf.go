package middleware

import (
	"net/http"

	"github.com/openwearlab/studygate/pkg/httputil"
	"github.com/openwearlab/studygate/pkg/observability"
	"github.com/openwearlab/studygate/pkg/session"
)

// Csrf enforces the double-submit token on mutating requests that were
// authenticated by the first-party session cookie. Delegated-cookie
// requests skip the check; their tokens are never exposed to script.
type Csrf struct {
	Sessions *session.Service
	Metrics  *observability.Metrics
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (c *Csrf) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := SessionClaimsFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if err := c.Sessions.VerifyCsrf(claims, r.Header.Get(session.CsrfHeader)); err != nil {
			if c.Metrics != nil {
				c.Metrics.CsrfRejectionsTotal.Inc()
			}
			httputil.WriteAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
