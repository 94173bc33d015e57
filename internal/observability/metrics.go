package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects storage-core metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Cache effectiveness (hits, misses, evictions, invalidations)
//   - Per-tier operation counts and latency (durable, fallback)
//   - Fallback activations when the durable tier degrades
//   - Version history growth and restores
//   - Orphan elements observed and removed
type Metrics struct {
	// CacheEvents counts cache outcomes.
	// Labels: event (hit|miss|eviction|invalidation)
	CacheEvents *prometheus.CounterVec

	// TierOperations counts backend operations.
	// Labels: tier (durable|fallback), operation (save|load|list|delete), status (success|error)
	TierOperations *prometheus.CounterVec

	// TierOperationDuration measures backend operation latency in seconds.
	// Labels: tier, operation
	// Buckets: 0.001s to 5s
	TierOperationDuration *prometheus.HistogramVec

	// FallbackActivations counts writes/reads degraded to the fallback tier.
	// Labels: operation
	FallbackActivations *prometheus.CounterVec

	// VersionsCreated counts version records written.
	// Labels: reason (mutation|pre_restore_backup)
	VersionsCreated *prometheus.CounterVec

	// Restores counts restore operations.
	Restores prometheus.Counter

	// OrphansObserved counts orphan elements tolerated during loads.
	OrphansObserved prometheus.Counter

	// OrphansRemoved counts orphan elements removed by cleanup.
	OrphansRemoved prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry. Call once at application startup.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWithRegistry registers all metrics with the given registry.
// Intended for tests, which need isolated registries.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		CacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckstore_cache_events_total",
				Help: "Cache outcomes by event type.",
			},
			[]string{"event"},
		),
		TierOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckstore_tier_operations_total",
				Help: "Backend operations by tier, operation, and status.",
			},
			[]string{"tier", "operation", "status"},
		),
		TierOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckstore_tier_operation_duration_seconds",
				Help:    "Backend operation latency by tier and operation.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tier", "operation"},
		),
		FallbackActivations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckstore_fallback_activations_total",
				Help: "Operations degraded from the durable tier to the fallback tier.",
			},
			[]string{"operation"},
		),
		VersionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckstore_versions_created_total",
				Help: "Version records written, by reason.",
			},
			[]string{"reason"},
		),
		Restores: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckstore_restores_total",
				Help: "Restore operations applied.",
			},
		),
		OrphansObserved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckstore_orphans_observed_total",
				Help: "Orphan elements tolerated during document loads.",
			},
		),
		OrphansRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckstore_orphans_removed_total",
				Help: "Orphan elements removed by explicit cleanup.",
			},
		),
	}
}
