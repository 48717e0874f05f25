package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Episode metrics
	EpisodesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_episodes_by_state",
			Help: "Number of episodes by lifecycle state",
		},
		[]string{"state"},
	)

	EpisodesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_episodes_opened_total",
			Help: "Total number of episodes opened",
		},
	)

	EpisodesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_episodes_closed_total",
			Help: "Total number of episodes reaching a terminal state, by state and reason",
		},
		[]string{"state", "reason"},
	)

	EpisodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_episode_duration_seconds",
			Help:    "End-to-end episode duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	ActiveEpisodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_active_episodes",
			Help: "Number of currently active (non-terminal) episodes",
		},
	)

	// Execution metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_actions_total",
			Help: "Total number of actions executed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_rollbacks_total",
			Help: "Total number of plans rolled back after a failed action",
		},
	)

	// Approval metrics
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_approvals_total",
			Help: "Total number of approval gate outcomes, by decision",
		},
		[]string{"decision"},
	)

	// Runbook metrics
	RunbookReuses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_runbook_reuses_total",
			Help: "Total number of episodes planned from a stored runbook",
		},
	)

	RunbooksLearned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_runbooks_learned_total",
			Help: "Total number of runbooks created or reinforced from verified episodes",
		},
	)

	// Analyzer metrics
	AnalyzerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_analyzer_calls_total",
			Help: "Total number of analyzer invocations, by result",
		},
		[]string{"result"},
	)

	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_verification_duration_seconds",
			Help:    "Time from execution end to verification verdict in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EpisodesByState)
	prometheus.MustRegister(EpisodesOpened)
	prometheus.MustRegister(EpisodesClosed)
	prometheus.MustRegister(EpisodeDuration)
	prometheus.MustRegister(ActiveEpisodes)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(RunbookReuses)
	prometheus.MustRegister(RunbooksLearned)
	prometheus.MustRegister(AnalyzerCalls)
	prometheus.MustRegister(VerificationDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
