package session

import (
	"net/http"
	"time"
)

// Cookie names. The session cookie is HTTP-only; the CSRF cookie must be
// readable by client script so it can be echoed in the CsrfHeader.
const (
	SessionCookie = "session_token"
	CsrfCookie    = "csrf_token"
	CsrfHeader    = "X-CSRF-Token"
)

// SetCookies writes the session and CSRF cookies for a freshly issued
// session. SameSite=None because the front end is served from a different
// origin; that requires Secure.
func SetCookies(w http.ResponseWriter, session Session, domain string) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(DefaultTTL.Seconds())
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Domain:   domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CsrfCookie,
		Value:    session.CsrfToken,
		Path:     "/",
		Domain:   domain,
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   maxAge,
	})
}

// ClearCookies expires both cookies.
func ClearCookies(w http.ResponseWriter, domain string) {
	for _, name := range []string{SessionCookie, CsrfCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   domain,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
			MaxAge:   -1,
		})
	}
}

// FromRequest extracts the raw session token from the request cookie, or
// "" when absent.
func FromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}
