// Package metrics provides Prometheus instrumentation for registration,
// near-duplicate linking, trust scoring and outbound calls.
//
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every proofchain collector.
type Metrics struct {
	// Registrations by outcome: created, retry, rejected
	Registrations *prometheus.CounterVec

	// Ledger anchor outcomes by ledger status
	LedgerAnchors *prometheus.CounterVec

	// Embedding computations by outcome: computed, reused, skipped, failed
	Embeddings *prometheus.CounterVec

	// Near-duplicate links made at registration time
	NearDuplicateLinks prometheus.Counter

	// Similarity of the best match found when linking or classifying
	BestSimilarity prometheus.Histogram

	// Aggregate trust score per scored content key
	TrustScore prometheus.Histogram

	// Outbound attempts by operation and result
	OutboundAttempts *prometheus.CounterVec

	// Outbound attempt latency by operation
	OutboundLatency *prometheus.HistogramVec
}

// New registers all collectors with the default Prometheus registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers all collectors with reg.
// Tests pass a fresh prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proofchain_registrations_total",
			Help: "Registration requests by outcome",
		}, []string{"outcome"}),

		LedgerAnchors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proofchain_ledger_anchors_total",
			Help: "Ledger anchor attempts by resulting ledger status",
		}, []string{"status"}),

		Embeddings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proofchain_embeddings_total",
			Help: "Embedding computations by outcome",
		}, []string{"outcome"}),

		NearDuplicateLinks: factory.NewCounter(prometheus.CounterOpts{
			Name: "proofchain_near_duplicate_links_total",
			Help: "Registrations linked to an earlier near-duplicate",
		}),

		BestSimilarity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofchain_best_similarity",
			Help:    "Cosine similarity of the best match per scan",
			Buckets: []float64{0, 0.5, 0.7, 0.8, 0.85, 0.9, 0.92, 0.95, 0.98, 1},
		}),

		TrustScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofchain_trust_score_pct",
			Help:    "Aggregate trust percentage per scored content",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		OutboundAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proofchain_outbound_attempts_total",
			Help: "Outbound call attempts by operation and result",
		}, []string{"operation", "result"}),

		OutboundLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proofchain_outbound_duration_seconds",
			Help:    "Duration of outbound call attempts",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// IncRegistration records a registration outcome.
func (m *Metrics) IncRegistration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

// IncLedgerAnchor records the ledger status a registration ended with.
func (m *Metrics) IncLedgerAnchor(status string) {
	if m != nil {
		m.LedgerAnchors.WithLabelValues(status).Inc()
	}
}

// IncEmbedding records an embedding outcome.
func (m *Metrics) IncEmbedding(outcome string) {
	if m != nil {
		m.Embeddings.WithLabelValues(outcome).Inc()
	}
}

// IncNearDuplicateLink records a lineage link.
func (m *Metrics) IncNearDuplicateLink() {
	if m != nil {
		m.NearDuplicateLinks.Inc()
	}
}

// ObserveBestSimilarity records the best similarity of a scan.
func (m *Metrics) ObserveBestSimilarity(sim float64) {
	if m != nil {
		m.BestSimilarity.Observe(sim)
	}
}

// ObserveTrustScore records an aggregate trust percentage.
func (m *Metrics) ObserveTrustScore(pct float64) {
	if m != nil {
		m.TrustScore.Observe(pct)
	}
}

// ObserveOutbound matches outbound.AttemptHook.
func (m *Metrics) ObserveOutbound(op string, attempt int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OutboundAttempts.WithLabelValues(op, result).Inc()
	m.OutboundLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}
