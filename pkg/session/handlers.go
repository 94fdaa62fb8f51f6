package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/httputil"
)

// Handlers exposes first-party session endpoints:
//
//	POST /auth/session/login   email + password, sets session cookies
//	POST /auth/session/logout  revokes the session, clears cookies
type Handlers struct {
	service      *Service
	store        accounts.Store
	log          *logrus.Logger
	cookieDomain string
}

func NewHandlers(service *Service, store accounts.Store, log *logrus.Logger, cookieDomain string) *Handlers {
	return &Handlers{
		service:      service,
		store:        store,
		log:          log,
		cookieDomain: cookieDomain,
	}
}

// RegisterRoutes mounts the session endpoints on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/session/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/auth/session/logout", h.Logout).Methods(http.MethodPost)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Subject   string `json:"subject"`
	CsrfToken string `json:"csrfToken"`
	ExpiresAt string `json:"expiresAt"`
}

// Login verifies researcher credentials and issues a session. Unknown
// accounts, bad passwords, unconfirmed and archived accounts all produce
// the same response so the endpoint cannot be used to probe for emails.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	account, err := h.store.GetResearcherByEmail(r.Context(), req.Email, false)
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		h.log.WithError(err).Error("researcher lookup failed")
		httputil.WriteInternalError(w)
		return
	}
	if err != nil || !account.Confirmed || accounts.VerifyPassword(account, req.Password) != nil {
		h.log.WithFields(logrus.Fields{"path": r.URL.Path}).Warn("session login rejected")
		httputil.WriteAuthError(w, autherr.New(autherr.KindUnauthenticated, "invalid credentials"))
		return
	}

	principal := accounts.PrincipalForResearcher(account)
	issued, err := h.service.IssueSession(principal)
	if err != nil {
		h.log.WithError(err).Error("session issuance failed")
		httputil.WriteInternalError(w)
		return
	}
	SetCookies(w, issued, h.cookieDomain)
	h.log.WithFields(logrus.Fields{"subject": principal.Subject()}).Info("session issued")
	httputil.WriteSuccess(w, loginResponse{
		Subject:   principal.Subject(),
		CsrfToken: issued.CsrfToken,
		ExpiresAt: issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout revokes whatever session the request carries and clears the
// cookies either way. Logging out without a session succeeds.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := FromRequest(r); token != "" {
		if err := h.service.RevokeSession(r.Context(), token); err != nil {
			h.log.WithFields(logrus.Fields{
				"error_kind": string(autherr.KindOf(err)),
			}).Warn("logout presented an unparseable session token")
		}
	}
	ClearCookies(w, h.cookieDomain)
	httputil.WriteNoContent(w)
}
