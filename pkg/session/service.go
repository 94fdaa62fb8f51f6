package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/observability"
)

const (
	// DefaultTTL is the fixed session lifetime. Not sliding: validity is
	// measured from issuance only.
	DefaultTTL = 30 * time.Minute

	issuer = "studygate"
)

// Claims are the JWT claims carried by a session token. Only the subject
// identity is trusted on validation; everything else about the principal is
// re-read from the account store.
type Claims struct {
	Csrf string `json:"csrf"`
	jwt.RegisteredClaims
}

// Session is a freshly issued credential pair.
type Session struct {
	Token     string
	CsrfToken string
	JTI       string
	ExpiresAt time.Time
}

// Service mints and validates first-party session tokens.
type Service struct {
	secret      []byte
	ttl         time.Duration
	store       accounts.Store
	revocations RevocationList
	metrics     *observability.Metrics

	// now is swapped in tests to drive expiry.
	now func() time.Time
}

// NewService creates a session service. A zero ttl selects DefaultTTL.
func NewService(secret []byte, ttl time.Duration, store accounts.Store, revocations RevocationList, metrics *observability.Metrics) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		secret:      secret,
		ttl:         ttl,
		store:       store,
		revocations: revocations,
		metrics:     metrics,
		now:         time.Now,
	}, nil
}

// TTL returns the fixed session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// IssueSession mints a signed, time-boxed bearer token for the principal
// together with its CSRF companion.
func (s *Service) IssueSession(principal accounts.Principal) (Session, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Csrf: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.Subject(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SessionsIssued.Inc()
	}

	return Session{
		Token:     signed,
		CsrfToken: claims.Csrf,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession checks signature, expiry, and the revocation list, then
// resolves the live principal from the embedded identity. Archived or
// deleted principals never resolve.
func (s *Service) ValidateSession(ctx context.Context, token string) (accounts.Principal, *Claims, error) {
	claims, err := s.parse(token, true)
	if err != nil {
		return accounts.Principal{}, nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return accounts.Principal{}, nil, fmt.Errorf("check revocation list: %w", err)
	}
	if revoked {
		return accounts.Principal{}, nil, autherr.New(autherr.KindRevoked, "session revoked")
	}

	kind, id, err := accounts.ParseSubject(claims.Subject)
	if err != nil {
		return accounts.Principal{}, nil, autherr.Wrap(autherr.KindUnauthenticated, "bad subject", err)
	}

	principal, err := accounts.ResolvePrincipal(ctx, s.store, kind, id)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.Principal{}, nil, autherr.New(autherr.KindUnauthenticated, "principal no longer active")
	}
	if err != nil {
		return accounts.Principal{}, nil, fmt.Errorf("resolve principal: %w", err)
	}

	return principal, claims, nil
}

// VerifyCsrf compares the CSRF value echoed by the client against the
// claim inside the validated session token.
func (s *Service) VerifyCsrf(claims *Claims, received string) error {
	if received == "" {
		return autherr.New(autherr.KindMissingCsrf, "csrf token missing from request")
	}
	if subtle.ConstantTimeCompare([]byte(claims.Csrf), []byte(received)) != 1 {
		return autherr.New(autherr.KindMissingCsrf, "csrf token mismatch")
	}
	return nil
}

// RevokeSession adds the token's jti to the revocation list. The token's
// own expiry is ignored so an expired token can still be revoked, and
// revoking twice is a no-op.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	claims, err := s.parse(token, false)
	if err != nil {
		return err
	}
	if err := s.revocations.Revoke(ctx, claims.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SessionsRevoked.Inc()
	}
	return nil
}

func (s *Service) parse(token string, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithIssuer(issuer)}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, autherr.New(autherr.KindExpired, "session past ttl")
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.KindUnauthenticated, "parse session token", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, autherr.New(autherr.KindUnauthenticated, "invalid session claims")
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, autherr.New(autherr.KindUnauthenticated, "session claims incomplete")
	}
	return claims, nil
}
