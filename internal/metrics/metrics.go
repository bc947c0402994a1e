// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry served by Handler. A dedicated registry keeps the
// output limited to pattern detector series plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	TicketsAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternd_tickets_analyzed_total",
			Help: "Tickets analyzed by the pattern detector, by outcome",
		},
		[]string{"department", "outcome"},
	)

	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternd_alerts_raised_total",
			Help: "Pattern alerts raised, by severity",
		},
		[]string{"department", "severity"},
	)

	SpamFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternd_spam_flags_total",
			Help: "Spam detections recorded, by reason",
		},
		[]string{"reason"},
	)

	IncidentsEscalatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternd_incidents_escalated_total",
			Help: "Clusters escalated into incident tickets",
		},
		[]string{"department"},
	)

	ClusterMergeConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patternd_cluster_merge_conflicts_total",
			Help: "Cluster merges retried after a concurrent update",
		},
	)

	EmbeddingCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternd_embedding_calls_total",
			Help: "Embedding provider calls, by provider and result",
		},
		[]string{"provider", "result"},
	)

	EmbeddingCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patternd_embedding_cache_hits_total",
			Help: "Embedding cache hits",
		},
	)

	EmbeddingCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patternd_embedding_call_duration_seconds",
			Help:    "Duration of embedding provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patternd_analysis_duration_seconds",
			Help:    "Wall time of a single ticket analysis",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnalysesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "patternd_analyses_in_flight",
			Help: "Ticket analyses currently running",
		},
	)

	ClustersDeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patternd_clusters_deactivated_total",
			Help: "Clusters deactivated by the idle sweeper or an operator",
		},
	)
)

func init() {
	Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		TicketsAnalyzedTotal,
		AlertsRaisedTotal,
		SpamFlagsTotal,
		IncidentsEscalatedTotal,
		ClusterMergeConflictsTotal,
		EmbeddingCallsTotal,
		EmbeddingCacheHitsTotal,
		EmbeddingCallDuration,
		AnalysisDuration,
		AnalysesInFlight,
		ClustersDeactivatedTotal,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
