package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/openwearlab/studygate/pkg/autherr"
)

// ProviderToken is one principal's credential for an external API.
type ProviderToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// SecretStore reads and writes one named secret as an opaque payload.
type SecretStore interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, payload []byte) error
}

// ErrSecretNotFound reports a secret that has never been written.
var ErrSecretNotFound = errors.New("secret not found")

// secretsManagerAPI is the slice of the Secrets Manager client the store
// uses, kept narrow so tests can script it.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManagerStore keeps provider secrets in AWS Secrets Manager.
type SecretsManagerStore struct {
	client secretsManagerAPI
}

func NewSecretsManagerStore(client *secretsmanager.Client) *SecretsManagerStore {
	return &SecretsManagerStore{client: client}
}

func (s *SecretsManagerStore) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return out.SecretBinary, nil
}

func (s *SecretsManagerStore) Write(ctx context.Context, name string, payload []byte) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(payload)),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(string(payload)),
		})
	}
	return err
}

// MemorySecretStore is an in-process SecretStore for tests and local runs.
type MemorySecretStore struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string][]byte)}
}

func (s *MemorySecretStore) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return payload, nil
}

func (s *MemorySecretStore) Write(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = payload
	return nil
}

// Manager maps (api, principal id) pairs onto per-API secrets.
type Manager struct {
	secrets SecretStore
	prefix  string
}

func NewManager(secrets SecretStore, prefix string) *Manager {
	return &Manager{secrets: secrets, prefix: prefix}
}

func (m *Manager) secretName(api string) string {
	return m.prefix + api
}

func (m *Manager) readAll(ctx context.Context, api string) (map[string]ProviderToken, error) {
	payload, err := m.secrets.Read(ctx, m.secretName(api))
	if errors.Is(err, ErrSecretNotFound) {
		return map[string]ProviderToken{}, nil
	}
	if err != nil {
		return nil, err
	}
	tokens := map[string]ProviderToken{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &tokens); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

func (m *Manager) writeAll(ctx context.Context, api string, tokens map[string]ProviderToken) error {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return m.secrets.Write(ctx, m.secretName(api), payload)
}

func principalKey(principalID int64) string {
	return strconv.FormatInt(principalID, 10)
}

// Get returns the stored token for the principal on the given API.
func (m *Manager) Get(ctx context.Context, api string, principalID int64) (ProviderToken, error) {
	tokens, err := m.readAll(ctx, api)
	if err != nil {
		return ProviderToken{}, err
	}
	token, ok := tokens[principalKey(principalID)]
	if !ok {
		return ProviderToken{}, autherr.New(autherr.KindProviderTokenNotFound, "no provider token on record")
	}
	return token, nil
}

// Upsert merges the incoming token into the principal's entry. Empty
// incoming fields keep their stored values, so a refresh response that
// omits the refresh token does not erase it.
func (m *Manager) Upsert(ctx context.Context, api string, principalID int64, token ProviderToken) error {
	tokens, err := m.readAll(ctx, api)
	if err != nil {
		return err
	}
	key := principalKey(principalID)
	existing := tokens[key]
	if token.AccessToken == "" {
		token.AccessToken = existing.AccessToken
	}
	if token.RefreshToken == "" {
		token.RefreshToken = existing.RefreshToken
	}
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = existing.ExpiresAt
	}
	if token.Scope == "" {
		token.Scope = existing.Scope
	}
	tokens[key] = token
	return m.writeAll(ctx, api, tokens)
}

// Delete removes the principal's entry. Deleting an absent entry fails
// with KindProviderTokenNotFound, mirroring Get.
func (m *Manager) Delete(ctx context.Context, api string, principalID int64) error {
	tokens, err := m.readAll(ctx, api)
	if err != nil {
		return err
	}
	key := principalKey(principalID)
	if _, ok := tokens[key]; !ok {
		return autherr.New(autherr.KindProviderTokenNotFound, "no provider token on record")
	}
	delete(tokens, key)
	return m.writeAll(ctx, api, tokens)
}
