package delegated

import (
	"context"
	"errors"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openwearlab/studygate/pkg/autherr"
)

// TokenUse selects which verification rules apply to a raw JWT.
type TokenUse string

const (
	// UseID verifies an id token, including the audience check against
	// the configured client id.
	UseID TokenUse = "id"
	// UseAccess verifies an access token. Cognito access tokens carry a
	// client_id claim instead of aud, so the audience check is skipped.
	UseAccess TokenUse = "access"
)

// VerifierCache resolves and caches OIDC providers per issuer so that
// remote key sets are fetched once and reused across requests. Clear
// drops every cached provider, forcing rediscovery on the next call.
type VerifierCache struct {
	mu        sync.Mutex
	providers *lru.Cache[string, *oidc.Provider]
}

func NewVerifierCache(size int) (*VerifierCache, error) {
	cache, err := lru.New[string, *oidc.Provider](size)
	if err != nil {
		return nil, err
	}
	return &VerifierCache{providers: cache}, nil
}

// Provider returns the discovered provider for issuer, performing OIDC
// discovery on first use.
func (c *VerifierCache) Provider(ctx context.Context, issuer string) (*oidc.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if provider, ok := c.providers.Get(issuer); ok {
		return provider, nil
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	c.providers.Add(issuer, provider)
	return provider, nil
}

// Verify checks signature, issuer, expiry and, for id tokens, audience.
func (c *VerifierCache) Verify(ctx context.Context, issuer, clientID, rawToken string, use TokenUse) (*oidc.IDToken, error) {
	provider, err := c.Provider(ctx, issuer)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInvalidToken, "issuer discovery failed", err)
	}
	cfg := &oidc.Config{ClientID: clientID}
	if use == UseAccess {
		cfg = &oidc.Config{SkipClientIDCheck: true}
	}
	token, err := provider.Verifier(cfg).Verify(ctx, rawToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, autherr.Wrap(autherr.KindExpired, "token expired", err)
		}
		return nil, autherr.Wrap(autherr.KindInvalidToken, "token verification failed", err)
	}
	return token, nil
}

// Clear purges all cached providers and key sets.
func (c *VerifierCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers.Purge()
}
