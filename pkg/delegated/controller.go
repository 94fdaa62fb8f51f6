package delegated

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/observability"
)

// Config describes one OIDC instance. Two are deployed in practice:
// a participant pool and a researcher pool, each with its own issuer
// and client registration.
type Config struct {
	InstanceName string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Tokens bundles the credential set returned by an exchange or refresh.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Controller runs the authorization-code + PKCE flow for one instance.
type Controller struct {
	cfg      Config
	verifier *VerifierCache
	flows    FlowStore
	mapper   PrincipalMapper
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
}

func NewController(cfg Config, verifier *VerifierCache, flows FlowStore, mapper PrincipalMapper, metrics *observability.Metrics, logger *observability.Logger) *Controller {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &Controller{
		cfg:      cfg,
		verifier: verifier,
		flows:    flows,
		mapper:   mapper,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// InstanceName reports which pool this controller serves.
func (c *Controller) InstanceName() string {
	return c.cfg.InstanceName
}

func (c *Controller) oauth2Config(ctx context.Context) (*oauth2.Config, error) {
	provider, err := c.verifier.Provider(ctx, c.cfg.Issuer)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInvalidToken, "issuer discovery failed", err)
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       c.cfg.Scopes,
	}, nil
}

// BeginAuthorize mints fresh state, nonce and code verifier, stores them
// under flowKey and returns the provider authorization URL. A second call
// with the same key replaces the earlier record entirely.
func (c *Controller) BeginAuthorize(ctx context.Context, flowKey string) (string, error) {
	ocfg, err := c.oauth2Config(ctx)
	if err != nil {
		return "", err
	}
	codeVerifier := oauth2.GenerateVerifier()
	flow := FlowState{
		State:         uuid.NewString(),
		CodeVerifier:  codeVerifier,
		Nonce:         uuid.NewString(),
		NonceIssuedAt: c.now(),
	}
	if err := c.flows.Put(ctx, flowKey, flow); err != nil {
		return "", err
	}
	return ocfg.AuthCodeURL(flow.State,
		oauth2.S256ChallengeOption(codeVerifier),
		oidc.Nonce(flow.Nonce),
	), nil
}

// HandleCallback completes the flow: it consumes the stored state and
// verifier, exchanges the code, verifies the returned id token, checks
// the single-use nonce and maps the claims to a local principal.
//
// The stored state is consumed before comparison, so a mismatched
// callback burns the pending flow instead of leaving it replayable.
func (c *Controller) HandleCallback(ctx context.Context, flowKey, receivedState, code string) (*Tokens, accounts.Principal, error) {
	storedState, codeVerifier, err := c.flows.PopExchange(ctx, flowKey)
	if err != nil {
		c.countExchange("state_mismatch")
		return nil, accounts.Principal{}, err
	}
	if receivedState == "" || receivedState != storedState {
		c.countExchange("state_mismatch")
		return nil, accounts.Principal{}, autherr.New(autherr.KindStateMismatch, "authorization state does not match")
	}
	if code == "" {
		c.countExchange("missing_code")
		return nil, accounts.Principal{}, autherr.New(autherr.KindMissingCode, "callback carries no authorization code")
	}

	ocfg, err := c.oauth2Config(ctx)
	if err != nil {
		c.countExchange("error")
		return nil, accounts.Principal{}, err
	}
	token, err := ocfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		c.countExchange("error")
		return nil, accounts.Principal{}, autherr.Wrap(autherr.KindInvalidToken, "code exchange failed", err)
	}
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		c.countExchange("error")
		return nil, accounts.Principal{}, autherr.New(autherr.KindInvalidToken, "token response carries no id token")
	}
	idToken, err := c.verifier.Verify(ctx, c.cfg.Issuer, c.cfg.ClientID, rawID, UseID)
	if err != nil {
		c.countExchange("error")
		return nil, accounts.Principal{}, err
	}
	if err := c.checkNonce(ctx, flowKey, idToken.Nonce); err != nil {
		c.countExchange("error")
		return nil, accounts.Principal{}, err
	}
	principal, err := c.mapper.MapClaims(ctx, idToken)
	if err != nil {
		c.countExchange("rejected")
		if c.logger != nil {
			c.logger.WithFields(map[string]interface{}{
				"instance":   c.cfg.InstanceName,
				"error_kind": string(autherr.KindOf(err)),
			}).Warn("verified identity rejected during principal mapping")
		}
		return nil, accounts.Principal{}, err
	}

	c.countExchange("success")
	return &Tokens{
		IDToken:      rawID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, principal, nil
}

// checkNonce pops the stored nonce and accepts the claim only if it
// matches and was issued within NonceTTL.
func (c *Controller) checkNonce(ctx context.Context, flowKey, claimNonce string) error {
	nonce, issuedAt, err := c.flows.PopNonce(ctx, flowKey)
	if err != nil {
		return err
	}
	if claimNonce == "" || claimNonce != nonce {
		return autherr.New(autherr.KindInvalidToken, "nonce does not match")
	}
	if c.now().Sub(issuedAt) > NonceTTL {
		return autherr.New(autherr.KindInvalidToken, "nonce expired")
	}
	return nil
}

// ValidateToken verifies a raw token against this instance's issuer.
func (c *Controller) ValidateToken(ctx context.Context, rawToken string, use TokenUse) (*oidc.IDToken, error) {
	return c.verifier.Verify(ctx, c.cfg.Issuer, c.cfg.ClientID, rawToken, use)
}

// Refresh runs the refresh grant and returns the replacement credential
// set. An empty refresh token is reported as its own failure kind so the
// caller can distinguish "log in again" from "refresh denied".
func (c *Controller) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		c.countRefresh("missing")
		return nil, autherr.New(autherr.KindMissingRefreshToken, "no refresh token on record")
	}
	ocfg, err := c.oauth2Config(ctx)
	if err != nil {
		c.countRefresh("error")
		return nil, err
	}
	token, err := ocfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		c.countRefresh("failed")
		return nil, autherr.Wrap(autherr.KindRefreshFailed, "refresh grant rejected", err)
	}
	rawID, _ := token.Extra("id_token").(string)
	if token.RefreshToken == "" {
		// Cognito does not rotate refresh tokens; keep the original.
		token.RefreshToken = refreshToken
	}
	c.countRefresh("success")
	return &Tokens{
		IDToken:      rawID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// AuthenticateTokens verifies the id token and maps it to a principal.
// When the token has merely expired it attempts the refresh grant once,
// verifies the replacement and retries the mapping; the returned Tokens
// is non-nil only in that case, signalling the caller to reset cookies.
func (c *Controller) AuthenticateTokens(ctx context.Context, rawID, refreshToken string) (accounts.Principal, *Tokens, error) {
	idToken, err := c.ValidateToken(ctx, rawID, UseID)
	if err == nil {
		principal, mapErr := c.mapper.MapClaims(ctx, idToken)
		return principal, nil, mapErr
	}
	if !autherr.IsKind(err, autherr.KindExpired) {
		return accounts.Principal{}, nil, err
	}

	refreshed, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return accounts.Principal{}, nil, err
	}
	if refreshed.IDToken == "" {
		return accounts.Principal{}, nil, autherr.New(autherr.KindRefreshFailed, "refresh response carries no id token")
	}
	idToken, err = c.ValidateToken(ctx, refreshed.IDToken, UseID)
	if err != nil {
		return accounts.Principal{}, nil, err
	}
	principal, err := c.mapper.MapClaims(ctx, idToken)
	if err != nil {
		return accounts.Principal{}, nil, err
	}
	return principal, refreshed, nil
}

func (c *Controller) countExchange(outcome string) {
	if c.metrics != nil {
		c.metrics.TokenExchangesTotal.WithLabelValues(c.cfg.InstanceName, outcome).Inc()
	}
}

func (c *Controller) countRefresh(outcome string) {
	if c.metrics != nil {
		c.metrics.TokenRefreshesTotal.WithLabelValues(c.cfg.InstanceName, outcome).Inc()
	}
}
