// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes
const (
	OutcomeScored    = "scored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeUnsaved   = "unsaved"
	OutcomeNoPredict = "no_predictors"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_arena_submissions_total",
		Help: "Price list submissions by outcome",
	}, []string{"outcome"})

	EstimationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_arena_estimation_duration_seconds",
		Help:    "Time spent estimating demand for one submission",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	PredictorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_arena_predictors_active",
		Help: "Prediction functions used by the last estimation",
	})

	PredictorRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_arena_predictor_registrations_total",
		Help: "Predictor uploads by result",
	}, []string{"result"})

	PersistenceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_arena_persistence_retries_total",
		Help: "Submission appends retried after a storage failure",
	})

	LeaderboardCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_arena_leaderboard_cache_lookups_total",
		Help: "Leaderboard cache lookups by result",
	}, []string{"result"})
)
