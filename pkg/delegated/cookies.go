package delegated

import (
	"net/http"
	"time"
)

// Cookie names for the delegated credential set. All three are HTTP-only;
// nothing client-side needs to read raw tokens.
const (
	IDTokenCookie      = "id_token"
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	// FlowCookie carries the opaque key under which the pending flow
	// state is stored server-side.
	FlowCookie = "auth_flow"
)

// refreshTokenTTL matches the Cognito user pool default.
const refreshTokenTTL = 30 * 24 * time.Hour

func tokenCookie(name, value, domain string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}

// SetTokenCookies writes the credential set. Called after a successful
// code exchange and again after a refresh replaces the tokens.
func SetTokenCookies(w http.ResponseWriter, tokens *Tokens, domain string) {
	accessMaxAge := int(time.Until(tokens.Expiry).Seconds())
	if accessMaxAge <= 0 {
		accessMaxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(w, tokenCookie(IDTokenCookie, tokens.IDToken, domain, accessMaxAge))
	http.SetCookie(w, tokenCookie(AccessTokenCookie, tokens.AccessToken, domain, accessMaxAge))
	if tokens.RefreshToken != "" {
		http.SetCookie(w, tokenCookie(RefreshTokenCookie, tokens.RefreshToken, domain, int(refreshTokenTTL.Seconds())))
	}
}

// ClearTokenCookies expires the whole credential set.
func ClearTokenCookies(w http.ResponseWriter, domain string) {
	for _, name := range []string{IDTokenCookie, AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, tokenCookie(name, "", domain, -1))
	}
}

// TokensFromRequest reads whichever credential cookies the request
// carries. Absent cookies come back empty.
func TokensFromRequest(r *http.Request) (idToken, accessToken, refreshToken string) {
	if c, err := r.Cookie(IDTokenCookie); err == nil {
		idToken = c.Value
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		accessToken = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = c.Value
	}
	return idToken, accessToken, refreshToken
}
