// Package observability provides structured logging, Prometheus metrics,
// and the health endpoint for the authorization service.
//
// The Logger wraps log/slog with a JSON handler and supports field chaining
// (WithField/WithFields/WithError) plus context propagation via FromContext.
// Metrics cover the security-relevant counters: permission denials,
// authentication failures by kind, session revocations, and external
// provider token refreshes.
package observability
