package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Loop metrics
	RoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_rounds_total",
			Help: "Total number of completed research rounds",
		},
	)

	Terminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_terminations_total",
			Help: "Research requests finished, by termination reason",
		},
		[]string{"reason"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_request_duration_seconds",
			Help:    "Research request duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Stage metrics
	RetrievalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_retrieval_failures_total",
			Help: "Per-query search failures absorbed by the fan-out",
		},
		[]string{"reason"},
	)

	SummarizationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_summarization_failures_total",
			Help: "Summaries replaced by a no-results record after a provider failure",
		},
	)

	EvaluatorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_evaluator_failures_total",
			Help: "Reflection rounds that produced no score",
		},
	)

	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_confidence_score",
			Help:    "Confidence scores reported by the evaluator",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	// Job metrics
	JobsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_jobs_started_total",
			Help: "Research jobs started through the server",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_jobs_completed_total",
			Help: "Research jobs finished through the server, by status",
		},
		[]string{"status"},
	)
)
