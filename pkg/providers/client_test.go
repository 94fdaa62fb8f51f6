package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwearlab/studygate/pkg/autherr"
)

// countingRefresher hands out sequential access tokens and records how
// often it was asked.
type countingRefresher struct {
	calls int32
	fail  bool
}

func (r *countingRefresher) RefreshProviderToken(_ context.Context, token ProviderToken) (ProviderToken, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.fail {
		return ProviderToken{}, autherr.New(autherr.KindRefreshFailed, "provider refresh rejected")
	}
	if token.RefreshToken == "" {
		return ProviderToken{}, autherr.New(autherr.KindMissingRefreshToken, "no refresh token on record")
	}
	return ProviderToken{AccessToken: "refreshed-access"}, nil
}

func seedManager(t *testing.T) *Manager {
	t.Helper()
	manager := NewManager(NewMemorySecretStore(), "studygate/providers/")
	require.NoError(t, manager.Upsert(context.Background(), "fitbit", 7, ProviderToken{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
	}))
	return manager
}

func TestDoPassesBearerToken(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	refresher := &countingRefresher{}
	client := NewClient("fitbit", seedManager(t), refresher, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/activity", nil)
	require.NoError(t, err)
	resp, err := client.Do(req, 7)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer stale-access", seen)
	assert.EqualValues(t, 0, refresher.calls)
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	var tokensSeen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		tokensSeen = append(tokensSeen, auth)
		if auth != "Bearer refreshed-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"steps": 9000}`)
	}))
	defer server.Close()

	manager := seedManager(t)
	refresher := &countingRefresher{}
	client := NewClient("fitbit", manager, refresher, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/activity", nil)
	require.NoError(t, err)
	resp, err := client.Do(req, 7)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, refresher.calls)
	assert.Equal(t, []string{"Bearer stale-access", "Bearer refreshed-access"}, tokensSeen)

	// The replacement token was persisted for the next request.
	stored, err := manager.Get(context.Background(), "fitbit", 7)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
}

func TestDoReturnsSecond401WithoutSecondRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := &countingRefresher{}
	client := NewClient("fitbit", seedManager(t), refresher, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/activity", nil)
	require.NoError(t, err)
	resp, err := client.Do(req, 7)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, refresher.calls)
}

func TestDoRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := &countingRefresher{fail: true}
	client := NewClient("fitbit", seedManager(t), refresher, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/activity", nil)
	require.NoError(t, err)
	_, err = client.Do(req, 7)
	assert.True(t, autherr.IsKind(err, autherr.KindRefreshFailed))
}

func TestDoUnknownPrincipal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the provider")
	}))
	defer server.Close()

	client := NewClient("fitbit", NewManager(NewMemorySecretStore(), "p/"), &countingRefresher{}, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/activity", nil)
	require.NoError(t, err)
	_, err = client.Do(req, 7)
	assert.True(t, autherr.IsKind(err, autherr.KindProviderTokenNotFound))
}

func TestDoRetriesBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(payload))
		if r.Header.Get("Authorization") != "Bearer refreshed-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient("fitbit", seedManager(t), &countingRefresher{}, server.Client(), nil, nil)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/export", strings.NewReader(`{"range":"7d"}`))
	require.NoError(t, err)
	resp, err := client.Do(req, 7)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{`{"range":"7d"}`, `{"range":"7d"}`}, bodies)
}

func TestOAuth2RefresherMissingToken(t *testing.T) {
	refresher := NewOAuth2Refresher("id", "secret", "https://provider.example.org/oauth/token")
	_, err := refresher.RefreshProviderToken(context.Background(), ProviderToken{})
	assert.True(t, autherr.IsKind(err, autherr.KindMissingRefreshToken))
}

func TestOAuth2RefresherGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"access-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`)
	}))
	defer server.Close()

	refresher := NewOAuth2Refresher("id", "secret", server.URL+"/oauth/token")
	token, err := refresher.RefreshProviderToken(context.Background(), ProviderToken{RefreshToken: "refresh-1"})
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
	assert.Equal(t, "refresh-2", token.RefreshToken)
	assert.False(t, token.ExpiresAt.IsZero())
}
