package delegated

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
)

func newTestController(t *testing.T, issuer *fakeIssuer, mapper PrincipalMapper) *Controller {
	t.Helper()
	cache, err := NewVerifierCache(4)
	require.NoError(t, err)
	cfg := Config{
		InstanceName: "researcher",
		Issuer:       issuer.URL(),
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://api.example.org/auth/researcher/callback",
	}
	return NewController(cfg, cache, NewMemoryFlowStore(), mapper, nil, nil)
}

// beginFlow starts a flow and returns the state and nonce embedded in the
// authorization URL.
func beginFlow(t *testing.T, ctrl *Controller, ctx context.Context, flowKey string) (state, nonce string) {
	t.Helper()
	authURL, err := ctrl.BeginAuthorize(ctx, flowKey)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	require.NotEmpty(t, query.Get("code_challenge"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	return query.Get("state"), query.Get("nonce")
}

func TestCallbackHappyPath(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})
	ctx := issuer.ctx()

	state, nonce := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": nonce,
		"email": "pi@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token":  "access-1",
		"id_token":      idToken,
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})

	tokens, principal, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.KindResearcher, principal.Kind)
	assert.Equal(t, "pi@lab.example.org", principal.Email)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, idToken, tokens.IDToken)

	// PKCE: the exchange must carry the verifier matching the challenge.
	form := issuer.tokenForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.NotEmpty(t, form.Get("code_verifier"))
}

func TestCallbackStateMismatchConsumesFlow(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})
	ctx := issuer.ctx()

	state, _ := beginFlow(t, ctrl, ctx, "flow-1")

	_, _, err := ctrl.HandleCallback(ctx, "flow-1", "forged-state", "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindStateMismatch))

	// The stored state was consumed by the mismatched attempt, so even
	// the genuine state cannot complete the flow now.
	_, _, err = ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindStateMismatch))
}

func TestCallbackMissingCode(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})
	ctx := issuer.ctx()

	state, _ := beginFlow(t, ctrl, ctx, "flow-1")
	_, _, err := ctrl.HandleCallback(ctx, "flow-1", state, "")
	assert.True(t, autherr.IsKind(err, autherr.KindMissingCode))
}

func TestCallbackNonceMismatch(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})
	ctx := issuer.ctx()

	state, _ := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": "a-nonce-from-some-other-flow",
		"email": "pi@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-1",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	_, _, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindInvalidToken))
}

func TestCallbackNonceExpired(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})
	ctx := issuer.ctx()

	state, nonce := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": nonce,
		"email": "pi@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-1",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	// The callback lands after the nonce window has closed.
	ctrl.now = func() time.Time { return time.Now().Add(NonceTTL + time.Minute) }
	_, _, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindInvalidToken))
}

func TestCallbackUnknownResearcherRejected(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})
	ctx := issuer.ctx()

	state, nonce := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": nonce,
		"email": "stranger@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-1",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	_, _, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindAccountNotFound))
}

func TestCallbackArchivedResearcherRejected(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("former@lab.example.org", true)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})
	ctx := issuer.ctx()

	state, nonce := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": nonce,
		"email": "former@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-1",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	_, _, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	assert.True(t, autherr.IsKind(err, autherr.KindAccountArchived))
}

func TestParticipantProvisionedOnFirstLogin(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	cache, err := NewVerifierCache(4)
	require.NoError(t, err)
	cfg := Config{
		InstanceName: "participant",
		Issuer:       issuer.URL(),
		ClientID:     "client-2",
		RedirectURL:  "https://api.example.org/auth/participant/callback",
	}
	ctrl := NewController(cfg, cache, NewMemoryFlowStore(), &ParticipantMapper{Store: store}, nil, nil)
	ctx := issuer.ctx()

	state, nonce := beginFlow(t, ctrl, ctx, "flow-1")
	idToken := issuer.mintToken(t, jwt.MapClaims{
		"aud":              "client-2",
		"nonce":            nonce,
		"cognito:username": "pool-user-42",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-1",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	_, principal, err := ctrl.HandleCallback(ctx, "flow-1", state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.KindParticipant, principal.Kind)
	assert.Equal(t, "pool-user-42", principal.ExternalID)

	// Second login resolves the same subject instead of creating another.
	again, err := store.GetParticipantByExternalID(ctx, "pool-user-42", false)
	require.NoError(t, err)
	assert.Equal(t, principal.ID, again.ID)
}

func TestRefreshMissingToken(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})

	_, err := ctrl.Refresh(issuer.ctx(), "")
	assert.True(t, autherr.IsKind(err, autherr.KindMissingRefreshToken))
}

func TestRefreshRejectedByProvider(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})
	issuer.failToken(400)

	_, err := ctrl.Refresh(issuer.ctx(), "refresh-1")
	assert.True(t, autherr.IsKind(err, autherr.KindRefreshFailed))
}

func TestRefreshKeepsOriginalRefreshToken(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-2",
		"id_token":     issuer.mintToken(t, jwt.MapClaims{"aud": "client-1"}),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	tokens, err := ctrl.Refresh(issuer.ctx(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, "refresh_token", issuer.tokenForm().Get("grant_type"))
}

func TestAuthenticateTokensValid(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})

	raw := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"email": "pi@lab.example.org",
	})
	principal, refreshed, err := ctrl.AuthenticateTokens(issuer.ctx(), raw, "refresh-1")
	require.NoError(t, err)
	assert.Nil(t, refreshed)
	assert.Equal(t, "pi@lab.example.org", principal.Email)
}

func TestAuthenticateTokensRefreshesExpired(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})

	expired := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"email": "pi@lab.example.org",
		"exp":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Hour).Unix(),
	})
	fresh := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"email": "pi@lab.example.org",
	})
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-2",
		"id_token":     fresh,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	principal, refreshed, err := ctrl.AuthenticateTokens(issuer.ctx(), expired, "refresh-1")
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, fresh, refreshed.IDToken)
	assert.Equal(t, "pi@lab.example.org", principal.Email)
}

func TestAuthenticateTokensExpiredWithoutRefresh(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: newMemoryAccounts()})

	expired := issuer.mintToken(t, jwt.MapClaims{
		"aud": "client-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Hour).Unix(),
	})
	_, _, err := ctrl.AuthenticateTokens(issuer.ctx(), expired, "")
	assert.True(t, autherr.IsKind(err, autherr.KindMissingRefreshToken))
}

func TestAuthenticateTokensRefreshOnlyOnce(t *testing.T) {
	issuer := newFakeIssuer(t)
	store := newMemoryAccounts()
	store.addResearcher("pi@lab.example.org", false)
	ctrl := newTestController(t, issuer, &ResearcherMapper{Store: store})

	expired := issuer.mintToken(t, jwt.MapClaims{
		"aud":   "client-1",
		"email": "pi@lab.example.org",
		"exp":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Hour).Unix(),
	})
	// The refresh grant hands back another already-expired id token. The
	// retry must fail with expired rather than refresh again.
	issuer.setTokenResponse(map[string]any{
		"access_token": "access-2",
		"id_token":     expired,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	_, _, err := ctrl.AuthenticateTokens(issuer.ctx(), expired, "refresh-1")
	assert.True(t, autherr.IsKind(err, autherr.KindExpired))
}
