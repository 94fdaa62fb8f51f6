package delegated

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/httputil"
)

// Handlers exposes one controller instance over HTTP:
//
//	GET  /auth/{instance}/login     redirect to the provider
//	GET  /auth/{instance}/callback  complete the exchange, set cookies
//	POST /auth/{instance}/logout    drop the credential cookies
type Handlers struct {
	controller   *Controller
	log          *logrus.Logger
	cookieDomain string
	frontEndURL  string
}

func NewHandlers(controller *Controller, log *logrus.Logger, cookieDomain, frontEndURL string) *Handlers {
	return &Handlers{
		controller:   controller,
		log:          log,
		cookieDomain: cookieDomain,
		frontEndURL:  frontEndURL,
	}
}

// RegisterRoutes mounts the instance's endpoints on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	prefix := "/auth/" + h.controller.InstanceName()
	router.HandleFunc(prefix+"/login", h.Login).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/callback", h.Callback).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/logout", h.Logout).Methods(http.MethodPost)
}

// Login mints a new flow and redirects the browser to the provider's
// authorization endpoint.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	flowKey := uuid.NewString()
	authURL, err := h.controller.BeginAuthorize(r.Context(), flowKey)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"instance": h.controller.InstanceName(),
			"error":    err.Error(),
		}).Error("failed to start authorization flow")
		httputil.WriteAuthError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlowCookie,
		Value:    flowKey,
		Path:     "/",
		Domain:   h.cookieDomain,
		MaxAge:   int(flowTTL.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
	h.log.WithFields(logrus.Fields{
		"instance": h.controller.InstanceName(),
	}).Info("authorization redirect issued")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the flow. On success the credential cookies are set
// and the browser is sent back to the front end.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	flowCookie, err := r.Cookie(FlowCookie)
	if err != nil {
		httputil.WriteAuthError(w, autherr.New(autherr.KindStateMismatch, "no pending authorization flow"))
		return
	}
	query := r.URL.Query()
	tokens, principal, err := h.controller.HandleCallback(r.Context(), flowCookie.Value, query.Get("state"), query.Get("code"))
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"instance":   h.controller.InstanceName(),
			"error_kind": string(autherr.KindOf(err)),
		}).Warn("authorization callback rejected")
		httputil.WriteAuthError(w, err)
		return
	}

	// Burn the flow cookie; the record behind it is already consumed.
	http.SetCookie(w, &http.Cookie{
		Name:     FlowCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.cookieDomain,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
	SetTokenCookies(w, tokens, h.cookieDomain)
	h.log.WithFields(logrus.Fields{
		"instance": h.controller.InstanceName(),
		"subject":  principal.Subject(),
	}).Info("delegated login completed")
	http.Redirect(w, r, h.frontEndURL, http.StatusFound)
}

// Logout drops the credential cookies. The provider session is left
// alone; the next login will round-trip through the provider again.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ClearTokenCookies(w, h.cookieDomain)
	httputil.WriteNoContent(w)
}
