package providers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/httputil"
	"github.com/openwearlab/studygate/pkg/middleware"
)

// Handlers exposes the provider-token surface for the authenticated
// principal:
//
//	GET    /providers/{api}/token  reports whether a token is on record
//	DELETE /providers/{api}/token  removes the principal's token bundle
type Handlers struct {
	manager *Manager
	apis    map[string]bool
	log     *logrus.Logger
}

func NewHandlers(manager *Manager, apis []string, log *logrus.Logger) *Handlers {
	known := make(map[string]bool, len(apis))
	for _, api := range apis {
		known[api] = true
	}
	return &Handlers{manager: manager, apis: known, log: log}
}

// RegisterRoutes mounts the provider endpoints on the router. The router
// is expected to already run the authentication middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/providers/{api}/token", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/providers/{api}/token", h.Revoke).Methods(http.MethodDelete)
}

func (h *Handlers) apiFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	api := mux.Vars(r)["api"]
	if !h.apis[api] {
		httputil.WriteNotFound(w, "unknown provider")
		return "", false
	}
	return api, true
}

type statusResponse struct {
	API       string `json:"api"`
	Connected bool   `json:"connected"`
}

// Status reports whether the principal has a token for the API. The
// token itself is never returned.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	api, ok := h.apiFromRequest(w, r)
	if !ok {
		return
	}
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteAuthError(w, autherr.New(autherr.KindUnauthenticated, "no principal on request"))
		return
	}

	_, err := h.manager.Get(r.Context(), api, principal.ID)
	if err != nil && !autherr.IsKind(err, autherr.KindProviderTokenNotFound) {
		h.log.WithError(err).Error("provider token lookup failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, statusResponse{API: api, Connected: err == nil})
}

// Revoke deletes the principal's token bundle for the API. Revoking an
// API that was never connected still returns 204.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	api, ok := h.apiFromRequest(w, r)
	if !ok {
		return
	}
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteAuthError(w, autherr.New(autherr.KindUnauthenticated, "no principal on request"))
		return
	}

	err := h.manager.Delete(r.Context(), api, principal.ID)
	if err != nil && !autherr.IsKind(err, autherr.KindProviderTokenNotFound) {
		h.log.WithError(err).Error("provider token revocation failed")
		httputil.WriteInternalError(w)
		return
	}
	h.log.WithFields(logrus.Fields{
		"api":          api,
		"principal_id": principal.ID,
	}).Info("provider token revoked")
	httputil.WriteNoContent(w)
}
