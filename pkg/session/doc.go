// Package session issues, validates, and revokes first-party bearer
// sessions. A session is a signed HS256 JWT with a fixed 30-minute TTL and
// a unique jti, delivered in an HTTP-only cookie; a companion CSRF token
// is embedded as a claim and mirrored into a script-readable cookie that
// mutating requests must echo in a header.
//
// Revocation is a server-side blocklist keyed by jti: once a jti is listed
// the token is rejected regardless of its own expiry. Revoking twice is a
// no-op. The SQL blocklist keeps rows past their usefulness until the
// pruning job removes entries whose token would have expired anyway; the
// Redis blocklist lets entries lapse on their own.
package session
