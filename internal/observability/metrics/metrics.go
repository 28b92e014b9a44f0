// Package metrics provides Prometheus collectors for the enrichment
// pipeline. All Record methods are safe to call on a nil receiver so callers
// never need to guard instrumentation sites.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics holds the collectors for fetch runs, provider calls,
// quota deferrals and reconciliation.
type PipelineMetrics struct {
	fetchRunsTotal       *prometheus.CounterVec
	fetchRunDuration     *prometheus.HistogramVec
	fetchItemsCollected  *prometheus.CounterVec
	providerRequests     *prometheus.CounterVec
	providerDropped      *prometheus.CounterVec
	quotaDeferralsTotal  *prometheus.CounterVec
	quotaRetryExhausted  *prometheus.CounterVec
	reconcileTotal       *prometheus.CounterVec
	sweepDuration        prometheus.Histogram
	sweepRowsClaimed     prometheus.Counter
}

// NewPipelineMetrics creates and registers pipeline metrics with the
// provided registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := m.register(registry); err != nil {
		return nil, fmt.Errorf("error registering pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.fetchRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_fetch_runs_total",
		Help: "Fetch run outcomes by data kind.",
	}, []string{"kind", "outcome"})

	m.fetchRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrich_fetch_run_duration_seconds",
		Help:    "Duration of individual fetch runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	m.fetchItemsCollected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_fetch_items_collected_total",
		Help: "Items persisted per data kind.",
	}, []string{"kind"})

	m.providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_provider_requests_total",
		Help: "Provider page fetches by provider and result class.",
	}, []string{"provider", "result"})

	m.providerDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_provider_items_dropped_total",
		Help: "Malformed provider items dropped during normalization.",
	}, []string{"provider"})

	m.quotaDeferralsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_quota_deferrals_total",
		Help: "Fetches deferred to the quota retry queue, by provider.",
	}, []string{"provider"})

	m.quotaRetryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_quota_retry_exhausted_total",
		Help: "Quota retry entries that hit the retry cap, by provider.",
	}, []string{"provider"})

	m.reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_reconcile_total",
		Help: "Nearby place reconciliation outcomes.",
	}, []string{"outcome"})

	m.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrich_sweep_duration_seconds",
		Help:    "Duration of orchestrator sweeps.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.sweepRowsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrich_sweep_rows_claimed_total",
		Help: "Fetch state rows claimed across all sweeps.",
	})
}

func (m *PipelineMetrics) register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.fetchRunsTotal,
		m.fetchRunDuration,
		m.fetchItemsCollected,
		m.providerRequests,
		m.providerDropped,
		m.quotaDeferralsTotal,
		m.quotaRetryExhausted,
		m.reconcileTotal,
		m.sweepDuration,
		m.sweepRowsClaimed,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordFetchRun records one fetch run outcome: done, pending, rate_limited
// or failed.
func (m *PipelineMetrics) RecordFetchRun(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchRunsTotal.WithLabelValues(kind, outcome).Inc()
	m.fetchRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordItemsCollected records items persisted for a kind.
func (m *PipelineMetrics) RecordItemsCollected(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.fetchItemsCollected.WithLabelValues(kind).Add(float64(count))
}

// RecordProviderRequest records one provider page fetch. result is ok,
// quota, transient or permanent.
func (m *PipelineMetrics) RecordProviderRequest(provider, result string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, result).Inc()
}

// RecordProviderDropped records malformed items dropped by an adapter.
func (m *PipelineMetrics) RecordProviderDropped(provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.providerDropped.WithLabelValues(provider).Add(float64(count))
}

// RecordQuotaDeferral records a fetch parked in the quota retry queue.
func (m *PipelineMetrics) RecordQuotaDeferral(provider string) {
	if m == nil {
		return
	}
	m.quotaDeferralsTotal.WithLabelValues(provider).Inc()
}

// RecordQuotaRetryExhausted records an entry that hit its retry cap.
func (m *PipelineMetrics) RecordQuotaRetryExhausted(provider string) {
	if m == nil {
		return
	}
	m.quotaRetryExhausted.WithLabelValues(provider).Inc()
}

// RecordReconcile records a reconciliation outcome: matched, created or
// conflict.
func (m *PipelineMetrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep records one orchestrator sweep.
func (m *PipelineMetrics) RecordSweep(duration time.Duration, rowsClaimed int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepRowsClaimed.Add(float64(rowsClaimed))
}
