// Package metrics exposes prometheus instruments for the admission flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcome labels.
const (
	OutcomeMarked          = "marked"
	OutcomeDuplicate       = "duplicate"
	OutcomeScoreTooLow     = "score_too_low"
	OutcomeFaceRejected    = "face_rejected"
	OutcomeSessionNotFound = "session_not_found"
	OutcomeError           = "error"
)

var (
	// MarkAttempts counts mark-secure calls by outcome.
	MarkAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bioattend_mark_attempts_total",
		Help: "Attendance mark attempts by outcome.",
	}, []string{"outcome"})

	// VerificationScore observes fused scores from both protocol steps.
	VerificationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bioattend_verification_score",
		Help:    "Distribution of fused verification scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	// SessionsCreated counts opened attendance sessions.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bioattend_sessions_created_total",
		Help: "Attendance sessions opened by professors.",
	})
)
