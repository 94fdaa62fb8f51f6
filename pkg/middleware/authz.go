package middleware

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/httputil"
	"github.com/openwearlab/studygate/pkg/permissions"
)

// Authorization gates routes on the principal's effective permissions.
type Authorization struct {
	Resolver *permissions.Resolver
}

// Require allows the request only when the principal holds the action
// on the resource within appScope.
func (a *Authorization) Require(action, resource, appScope string) func(http.Handler) http.Handler {
	return a.middleware(action, resource, appScope, "")
}

// RequireStudy additionally scopes the check to the study named by the
// mux route variable studyVar.
func (a *Authorization) RequireStudy(action, resource, appScope, studyVar string) func(http.Handler) http.Handler {
	return a.middleware(action, resource, appScope, studyVar)
}

func (a *Authorization) middleware(action, resource, appScope, studyVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				httputil.WriteAuthError(w, autherr.New(autherr.KindUnauthenticated, "no principal on request"))
				return
			}

			var studyScope *int64
			if studyVar != "" {
				raw, ok := mux.Vars(r)[studyVar]
				if !ok {
					httputil.WriteBadRequest(w, "missing study identifier")
					return
				}
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					httputil.WriteBadRequest(w, "malformed study identifier")
					return
				}
				studyScope = &id
			}

			ask := permissions.Ask{
				Principal:  principal,
				Action:     action,
				Resource:   resource,
				AppScope:   appScope,
				StudyScope: studyScope,
			}
			if err := a.Resolver.Check(r.Context(), ask); err != nil {
				httputil.WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
