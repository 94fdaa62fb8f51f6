package delegated

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/openwearlab/studygate/pkg/accounts"
)

const testKeyID = "test-key"

// fakeIssuer is a minimal OIDC provider: discovery document, JWKS and a
// scriptable token endpoint.
type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	discoveryHits int
	lastTokenForm url.Values
	tokenStatus   int
	tokenResponse map[string]any
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := &fakeIssuer{key: key, tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", issuer.discovery)
	mux.HandleFunc("/keys", issuer.jwks)
	mux.HandleFunc("/token", issuer.token)
	issuer.server = httptest.NewServer(mux)
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (f *fakeIssuer) URL() string {
	return f.server.URL
}

// ctx returns a context wired to the test server's client so discovery
// and JWKS fetches hit the fixture.
func (f *fakeIssuer) ctx() context.Context {
	return oidc.ClientContext(context.Background(), f.server.Client())
}

func (f *fakeIssuer) discovery(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.discoveryHits++
	f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                f.server.URL,
		"authorization_endpoint":                f.server.URL + "/authorize",
		"token_endpoint":                        f.server.URL + "/token",
		"jwks_uri":                              f.server.URL + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) jwks(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": testKeyID,
			"n":   base64.RawURLEncoding.EncodeToString(f.key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(f.key.PublicKey.E)).Bytes()),
		}},
	})
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.lastTokenForm = r.PostForm
	status, response := f.tokenStatus, f.tokenResponse
	f.mu.Unlock()
	if status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (f *fakeIssuer) setTokenResponse(response map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = http.StatusOK
	f.tokenResponse = response
}

func (f *fakeIssuer) failToken(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

func (f *fakeIssuer) tokenForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTokenForm
}

func (f *fakeIssuer) discoveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveryHits
}

// mintToken signs an RS256 JWT with the fixture's key.
func (f *fakeIssuer) mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = f.server.URL
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

// memoryAccounts is a plain in-memory accounts.Store for mapper tests.
type memoryAccounts struct {
	mu           sync.Mutex
	researchers  map[string]*accounts.ResearcherAccount
	participants map[string]*accounts.ParticipantSubject
	nextID       int64
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		researchers:  make(map[string]*accounts.ResearcherAccount),
		participants: make(map[string]*accounts.ParticipantSubject),
		nextID:       1,
	}
}

func (m *memoryAccounts) addResearcher(email string, archived bool) *accounts.ResearcherAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := &accounts.ResearcherAccount{
		ID:        m.nextID,
		Email:     email,
		Confirmed: true,
		Archived:  archived,
	}
	m.nextID++
	m.researchers[email] = account
	return account
}

func (m *memoryAccounts) GetResearcherByID(_ context.Context, id int64, includeArchived bool) (*accounts.ResearcherAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.researchers {
		if account.ID == id && (includeArchived || !account.Archived) {
			return account, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (m *memoryAccounts) GetResearcherByEmail(_ context.Context, email string, includeArchived bool) (*accounts.ResearcherAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.researchers[email]
	if !ok || (!includeArchived && account.Archived) {
		return nil, accounts.ErrNotFound
	}
	return account, nil
}

func (m *memoryAccounts) GetParticipantByID(_ context.Context, id int64, includeArchived bool) (*accounts.ParticipantSubject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, subject := range m.participants {
		if subject.ID == id && (includeArchived || !subject.Archived) {
			return subject, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (m *memoryAccounts) GetParticipantByExternalID(_ context.Context, externalID string, includeArchived bool) (*accounts.ParticipantSubject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject, ok := m.participants[externalID]
	if !ok || (!includeArchived && subject.Archived) {
		return nil, accounts.ErrNotFound
	}
	return subject, nil
}

func (m *memoryAccounts) CreateParticipant(_ context.Context, externalID string) (*accounts.ParticipantSubject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject := &accounts.ParticipantSubject{
		ID:         m.nextID,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	}
	m.nextID++
	m.participants[externalID] = subject
	return subject, nil
}
