// Package server contains HTTP handlers for the credential core.
// This file implements Prometheus metrics exposure endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Domain metrics for credential, wallet, and share operations.
var (
	credentialKeysGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_keypairs_generated_total",
			Help: "Total number of ed25519 keypairs generated.",
		},
	)

	credentialsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_credentials_issued_total",
			Help: "Total number of credentials issued, batch included.",
		},
	)

	credentialsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_credentials_revoked_total",
			Help: "Total number of credential revocations recorded.",
		},
	)

	walletAdditions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_wallet_additions_total",
			Help: "Total number of documents ingested into wallets.",
		},
	)

	walletVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatura_wallet_verifications_total",
			Help: "Total number of wallet signature verifications, by outcome.",
		},
		[]string{"result"}, // verified, invalid
	)

	sharesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_shares_created_total",
			Help: "Total number of share grants created.",
		},
	)

	shareTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatura_share_transitions_total",
			Help: "Total number of grant lifecycle transitions, by target state.",
		},
		[]string{"state"}, // approved, denied, revoked
	)

	sharedResolves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_shared_resolves_total",
			Help: "Total number of successful public share token resolutions.",
		},
	)

	sharedAccesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatura_shared_accesses_total",
			Help: "Total number of content accesses through shares, by action.",
		},
		[]string{"action"}, // view, print, download, share
	)

	otpChallengesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signatura_otp_challenges_total",
			Help: "Total number of OTP challenges issued.",
		},
	)

	otpVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatura_otp_verifications_total",
			Help: "Total number of OTP verification attempts, by result.",
		},
		[]string{"result"}, // success, failure
	)
)

// metricsHandler exposes Prometheus metrics through the main HTTP server.
// Includes the HTTP request metrics from middleware, Go runtime metrics, and
// the credential domain counters above.
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// NewMetricsHandler creates a standalone handler for the dedicated metrics
// listener, keeping scrape traffic off the application port.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
