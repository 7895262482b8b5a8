// Package telemetry exposes the Prometheus metrics of the game core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChoicesAccepted counts choices that passed the gates and committed.
	ChoicesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabula_choices_accepted_total",
		Help: "Accepted and committed player choices.",
	})

	// ChapterGenerations counts author invocations by outcome.
	ChapterGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabula_chapter_generations_total",
		Help: "Chapter generation attempts by outcome.",
	}, []string{"outcome"})

	// TokensRejected counts unknown, reused or expired choice tokens.
	TokensRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabula_tokens_rejected_total",
		Help: "Choice tokens rejected as unknown, reused or expired.",
	})

	// PacingRejections counts choices turned away by the pacing gate.
	PacingRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabula_pacing_rejections_total",
		Help: "Choices rejected by the pacing gate, by reason.",
	}, []string{"reason"})

	// PioneerGrants counts first-ever branch traversal rewards.
	PioneerGrants = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabula_pioneer_grants_total",
		Help: "Pioneer rewards granted.",
	})
)
