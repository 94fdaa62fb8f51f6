// Package providers manages OAuth2 credentials for external data
// providers (wearable and survey APIs) on behalf of local principals.
//
// Tokens are keyed by (api, principal id) and stored one secret per API:
// the whole secret is read, the entry merged in, and the secret written
// back. Two concurrent writers to the same API can lose an update in the
// window between read and write; callers that rotate tokens for many
// principals at once should serialize on the API name.
//
// Client wraps an HTTP client with bearer injection and a single
// refresh-and-retry on 401. The response of the retried request is
// returned as is, so a provider that rejects the refreshed token still
// surfaces its own status to the caller.
package providers
