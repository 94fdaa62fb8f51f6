package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authentication metrics
	AuthFailuresTotal   *prometheus.CounterVec
	SessionsIssued      prometheus.Counter
	SessionsRevoked     prometheus.Counter
	CsrfRejectionsTotal prometheus.Counter

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	PermissionDenials     *prometheus.CounterVec

	// Delegated auth metrics
	TokenExchangesTotal *prometheus.CounterVec
	TokenRefreshesTotal *prometheus.CounterVec

	// External provider metrics
	ProviderRequestsTotal  *prometheus.CounterVec
	ProviderRefreshesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_auth_failures_total",
				Help: "Total authentication failures by error kind",
			},
			[]string{"kind"},
		),
		SessionsIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "studygate_sessions_issued_total",
				Help: "Total first-party sessions issued",
			},
		),
		SessionsRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "studygate_sessions_revoked_total",
				Help: "Total session revocations recorded",
			},
		),
		CsrfRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "studygate_csrf_rejections_total",
				Help: "Total mutating requests rejected for a missing or stale CSRF token",
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_permission_checks_total",
				Help: "Total permission checks by outcome",
			},
			[]string{"outcome"},
		),
		PermissionDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_permission_denials_total",
				Help: "Permission denials by action and resource",
			},
			[]string{"action", "resource"},
		),
		TokenExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_token_exchanges_total",
				Help: "Authorization-code exchanges by instance and outcome",
			},
			[]string{"instance", "outcome"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_token_refreshes_total",
				Help: "Delegated access-token refreshes by instance and outcome",
			},
			[]string{"instance", "outcome"},
		),
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_provider_requests_total",
				Help: "Outbound external-provider requests by API and status class",
			},
			[]string{"api", "status"},
		),
		ProviderRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studygate_provider_refreshes_total",
				Help: "External-provider token refreshes by API and outcome",
			},
			[]string{"api", "outcome"},
		),
	}

	registry.MustRegister(
		m.AuthFailuresTotal,
		m.SessionsIssued,
		m.SessionsRevoked,
		m.CsrfRejectionsTotal,
		m.PermissionChecksTotal,
		m.PermissionDenials,
		m.TokenExchangesTotal,
		m.TokenRefreshesTotal,
		m.ProviderRequestsTotal,
		m.ProviderRefreshesTotal,
	)

	return m
}

// Handler returns the Prometheus exposition handler for the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
