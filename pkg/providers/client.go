package providers

import (
	"context"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/observability"
)

// Refresher exchanges a refresh token for a fresh credential at the
// external provider's token endpoint.
type Refresher interface {
	RefreshProviderToken(ctx context.Context, token ProviderToken) (ProviderToken, error)
}

// OAuth2Refresher runs the standard refresh grant against a provider's
// token endpoint.
type OAuth2Refresher struct {
	Config *oauth2.Config
}

func NewOAuth2Refresher(clientID, clientSecret, tokenURL string) *OAuth2Refresher {
	return &OAuth2Refresher{Config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}}
}

func (r *OAuth2Refresher) RefreshProviderToken(ctx context.Context, token ProviderToken) (ProviderToken, error) {
	if token.RefreshToken == "" {
		return ProviderToken{}, autherr.New(autherr.KindMissingRefreshToken, "no refresh token on record")
	}
	fresh, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
	if err != nil {
		return ProviderToken{}, autherr.Wrap(autherr.KindRefreshFailed, "provider refresh rejected", err)
	}
	return ProviderToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
	}, nil
}

// Client issues authenticated requests to one external API on behalf of
// principals, refreshing the stored token at most once per request.
type Client struct {
	api       string
	manager   *Manager
	refresher Refresher
	http      *http.Client
	metrics   *observability.Metrics
	logger    *observability.Logger
}

func NewClient(api string, manager *Manager, refresher Refresher, httpClient *http.Client, metrics *observability.Metrics, logger *observability.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		api:       api,
		manager:   manager,
		refresher: refresher,
		http:      httpClient,
		metrics:   metrics,
		logger:    logger,
	}
}

// Do sends the request with the principal's bearer token. On a 401 it
// refreshes the token once, persists the replacement and retries; the
// second response is returned whatever its status. Requests with a body
// must set GetBody, as http.NewRequest does, or the retry is skipped.
func (c *Client) Do(req *http.Request, principalID int64) (*http.Response, error) {
	ctx := req.Context()
	token, err := c.manager.Get(ctx, c.api, principalID)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, token.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		c.countRequest(resp.StatusCode)
		return resp, nil
	}
	resp.Body.Close()

	fresh, err := c.refresher.RefreshProviderToken(ctx, token)
	if err != nil {
		c.countRefresh("failed")
		return nil, err
	}
	if err := c.manager.Upsert(ctx, c.api, principalID, fresh); err != nil {
		return nil, err
	}
	c.countRefresh("success")
	if c.logger != nil {
		c.logger.WithFields(map[string]interface{}{
			"api":          c.api,
			"principal_id": principalID,
		}).Info("provider token refreshed after 401")
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(retry, fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	c.countRequest(resp.StatusCode)
	return resp, nil
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.http.Do(req)
}

// cloneRequest rebuilds the request so its body can be sent again.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func (c *Client) countRequest(status int) {
	if c.metrics != nil {
		class := strconv.Itoa(status/100) + "xx"
		c.metrics.ProviderRequestsTotal.WithLabelValues(c.api, class).Inc()
	}
}

func (c *Client) countRefresh(outcome string) {
	if c.metrics != nil {
		c.metrics.ProviderRefreshesTotal.WithLabelValues(c.api, outcome).Inc()
	}
}
