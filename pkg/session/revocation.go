package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RevocationList records revoked session jtis. Listing is append-only and
// idempotent; a listed jti stays rejected for the remaining life of its
// token. Implementations must give read-your-writes: a revocation is
// visible to IsRevoked calls made after Revoke returns.
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
}

// SQLRevocationList stores revocations in the revoked_tokens table.
type SQLRevocationList struct {
	db *sql.DB
}

// NewSQLRevocationList creates a SQL-backed revocation list
func NewSQLRevocationList(db *sql.DB) *SQLRevocationList {
	return &SQLRevocationList{db: db}
}

// IsRevoked reports whether the jti has been revoked
func (l *SQLRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	return exists, nil
}

// Revoke inserts the jti. Re-revoking an already listed jti is a no-op.
func (l *SQLRevocationList) Revoke(ctx context.Context, jti string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, revoked_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, at)
	if err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}
	return nil
}

// PruneBefore deletes entries recorded before the cutoff. Entries older
// than the session TTL guard tokens that have expired on their own, so the
// pruning job passes now minus the TTL (plus skew).
func (l *SQLRevocationList) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE revoked_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

// RedisRevocationList stores revocations as self-expiring Redis keys. The
// key TTL covers the session TTL plus clock skew, after which the token is
// rejected by its own expiry anyway.
type RedisRevocationList struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRevocationList creates a Redis-backed revocation list whose
// entries live for the given duration.
func NewRedisRevocationList(client *redis.Client, ttl time.Duration) *RedisRevocationList {
	return &RedisRevocationList{client: client, ttl: ttl}
}

func (l *RedisRevocationList) key(jti string) string {
	return fmt.Sprintf("revoked_jti:%s", jti)
}

// IsRevoked reports whether the jti has been revoked
func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Revoke records the jti; re-revoking refreshes the entry harmlessly.
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, at time.Time) error {
	if err := l.client.Set(ctx, l.key(jti), at.UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
