package delegated

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openwearlab/studygate/pkg/autherr"
)

// NonceTTL bounds how long an issued nonce stays acceptable.
const NonceTTL = 300 * time.Second

// flowTTL bounds the whole flow record; callbacks arriving later than
// this start from scratch.
const flowTTL = 10 * time.Minute

// FlowState holds the per-browser secrets minted when an authorization
// redirect is issued. A repeated login attempt overwrites the previous
// record wholesale, so only the latest redirect can complete.
type FlowState struct {
	State         string    `json:"state"`
	CodeVerifier  string    `json:"code_verifier"`
	Nonce         string    `json:"nonce"`
	NonceIssuedAt time.Time `json:"nonce_issued_at"`
}

// FlowStore persists FlowState between the authorize redirect and the
// provider callback, keyed by an opaque flow cookie value.
type FlowStore interface {
	Put(ctx context.Context, key string, state FlowState) error
	// PopExchange removes and returns the stored state and code verifier.
	// The record's state and verifier are consumed even when the caller
	// later decides the received state does not match.
	PopExchange(ctx context.Context, key string) (state, verifier string, err error)
	// PopNonce removes and returns the stored nonce and its issue time.
	PopNonce(ctx context.Context, key string) (nonce string, issuedAt time.Time, err error)
}

type memoryFlowEntry struct {
	flow      FlowState
	expiresAt time.Time
}

// MemoryFlowStore keeps flow state in process memory. Suitable for tests
// and single-instance deployments.
type MemoryFlowStore struct {
	mu      sync.Mutex
	entries map[string]*memoryFlowEntry
	now     func() time.Time
}

func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		entries: make(map[string]*memoryFlowEntry),
		now:     time.Now,
	}
}

func (s *MemoryFlowStore) Put(_ context.Context, key string, state FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryFlowEntry{flow: state, expiresAt: s.now().Add(flowTTL)}
	return nil
}

func (s *MemoryFlowStore) get(key string) (*memoryFlowEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryFlowStore) PopExchange(_ context.Context, key string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.get(key)
	if !ok || entry.flow.State == "" {
		return "", "", autherr.New(autherr.KindStateMismatch, "no pending authorization flow")
	}
	state, verifier := entry.flow.State, entry.flow.CodeVerifier
	entry.flow.State = ""
	entry.flow.CodeVerifier = ""
	return state, verifier, nil
}

func (s *MemoryFlowStore) PopNonce(_ context.Context, key string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.get(key)
	if !ok || entry.flow.Nonce == "" {
		return "", time.Time{}, autherr.New(autherr.KindInvalidToken, "no nonce on record")
	}
	nonce, issuedAt := entry.flow.Nonce, entry.flow.NonceIssuedAt
	entry.flow.Nonce = ""
	if entry.flow.State == "" && entry.flow.CodeVerifier == "" {
		delete(s.entries, key)
	}
	return nonce, issuedAt, nil
}

// RedisFlowStore persists flow state as a JSON blob with a server-side
// TTL, letting any instance behind a load balancer complete the callback.
type RedisFlowStore struct {
	client *redis.Client
}

func NewRedisFlowStore(client *redis.Client) *RedisFlowStore {
	return &RedisFlowStore{client: client}
}

func flowKey(key string) string {
	return "auth_flow:" + key
}

func (s *RedisFlowStore) Put(ctx context.Context, key string, state FlowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, flowKey(key), payload, flowTTL).Err()
}

func (s *RedisFlowStore) load(ctx context.Context, key string) (*FlowState, error) {
	payload, err := s.client.Get(ctx, flowKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var flow FlowState
	if err := json.Unmarshal(payload, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (s *RedisFlowStore) save(ctx context.Context, key string, flow *FlowState) error {
	if flow.State == "" && flow.CodeVerifier == "" && flow.Nonce == "" {
		return s.client.Del(ctx, flowKey(key)).Err()
	}
	payload, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, flowKey(key), payload, redis.KeepTTL).Err()
}

func (s *RedisFlowStore) PopExchange(ctx context.Context, key string) (string, string, error) {
	flow, err := s.load(ctx, key)
	if err != nil {
		return "", "", err
	}
	if flow == nil || flow.State == "" {
		return "", "", autherr.New(autherr.KindStateMismatch, "no pending authorization flow")
	}
	state, verifier := flow.State, flow.CodeVerifier
	flow.State = ""
	flow.CodeVerifier = ""
	if err := s.save(ctx, key, flow); err != nil {
		return "", "", err
	}
	return state, verifier, nil
}

func (s *RedisFlowStore) PopNonce(ctx context.Context, key string) (string, time.Time, error) {
	flow, err := s.load(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	if flow == nil || flow.Nonce == "" {
		return "", time.Time{}, autherr.New(autherr.KindInvalidToken, "no nonce on record")
	}
	nonce, issuedAt := flow.Nonce, flow.NonceIssuedAt
	flow.Nonce = ""
	if err := s.save(ctx, key, flow); err != nil {
		return "", time.Time{}, err
	}
	return nonce, issuedAt, nil
}
