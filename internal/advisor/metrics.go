package advisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "turns_total",
		Help:      "Completed conversation turns by mode",
	}, []string{"mode"})

	branchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "branch_failures_total",
		Help:      "Backend branch failures absorbed as degraded partials",
	}, []string{"branch"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "advisor",
		Name:      "turn_duration_seconds",
		Help:      "Wall time from request receipt to final event",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	})

	markersInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "markers_inserted_total",
		Help:      "Inline product markers spliced into answer text",
	})

	summariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "summaries_total",
		Help:      "Background summarization outcomes",
	}, []string{"status"})

	funnelSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "funnel_selections_total",
		Help:      "Funnel product selections by outcome",
	}, []string{"outcome"})

	routedIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Name:      "routed_intents_total",
		Help:      "Intent router decisions on detail-awaiting turns",
	}, []string{"intent"})
)
