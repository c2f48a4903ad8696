package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records signup, login and authorize calls by result (success|failure|error).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"operation", "result"},
	)

	// VerificationRequests counts issued verification challenges per delivery channel.
	VerificationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_verification_requests_total",
			Help: "Total number of verification code requests",
		},
		[]string{"channel", "result"},
	)

	// VerificationConfirmations counts confirmation attempts by outcome.
	VerificationConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_verification_confirmations_total",
			Help: "Total number of verification confirmation attempts",
		},
		[]string{"result"},
	)

	// PasswordHashDuration measures argon2 hash and verify latency.
	PasswordHashDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcore_password_hash_seconds",
			Help:    "Password hashing latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	// ChallengesReaped counts challenges removed by the maintenance reaper.
	ChallengesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idcore_challenges_reaped_total",
			Help: "Total number of expired or consumed challenges purged",
		},
	)

	// SessionEvents counts refresh session lifecycle events (created|refreshed|revoked|reused).
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_session_events_total",
			Help: "Total number of refresh session lifecycle events",
		},
		[]string{"event"},
	)

	// SessionsReaped counts sessions removed by the maintenance reaper.
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idcore_sessions_reaped_total",
			Help: "Total number of expired or revoked sessions purged",
		},
	)
)
