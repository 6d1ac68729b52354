// Package metrics exposes simulator counters to Prometheus.
//
// All methods are safe on a nil *Metrics, so components record
// unconditionally and callers opt in by passing a collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	spawnsCounter          prometheus.Counter
	assignmentsCounter     prometheus.Counter
	dryRunsCounter         prometheus.Counter
	executionErrorsCounter prometheus.Counter
	haltsCounter           prometheus.Counter
	effectsCounter         *prometheus.CounterVec
	skippedEffectsCounter  *prometheus.CounterVec
	ledgerHeightGauge      prometheus.Gauge
	executeDuration        prometheus.Histogram

	fetchCounter      *prometheus.CounterVec
	fetchRetryCounter prometheus.Counter
	cacheCounter      *prometheus.CounterVec
	driveBytesCounter prometheus.Counter
	admissionsCounter *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := Metrics{
		// engine
		spawnsCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_spawns_total", namespace),
			Help: "Processes spawned",
		}),
		assignmentsCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_assignments_total", namespace),
			Help: "Messages assigned to processes",
		}),
		dryRunsCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dry_runs_total", namespace),
			Help: "Dry runs evaluated",
		}),
		executionErrorsCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_execution_errors_total", namespace),
			Help: "Executions that reported an error",
		}),
		haltsCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_capability_halts_total", namespace),
			Help: "Processes halted by a capability check",
		}),
		effectsCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_effects_total", namespace),
			Help: "Effects propagated by kind",
		}, []string{"kind"}),
		skippedEffectsCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_effects_skipped_total", namespace),
			Help: "Effects dropped by reason",
		}, []string{"reason"}),
		ledgerHeightGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_ledger_height", namespace),
			Help: "The latest posted block height",
		}),
		executeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_execute_seconds", namespace),
			Help:    "Time spent in the host per message",
			Buckets: prometheus.DefBuckets,
		}),
		// weavedrive
		fetchCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fetches_total", namespace),
			Help: "Remote fetches by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		fetchRetryCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fetch_retries_total", namespace),
			Help: "Metadata fetch retries",
		}),
		cacheCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cache_lookups_total", namespace),
			Help: "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		driveBytesCounter: f.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_drive_bytes_read_total", namespace),
			Help: "Bytes returned to processes by drive reads",
		}),
		admissionsCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_admission_checks_total", namespace),
			Help: "Content admission checks by decision",
		}, []string{"decision"}),
	}
	return &m
}

func (m *Metrics) IncSpawns() {
	if m == nil {
		return
	}
	m.spawnsCounter.Inc()
}

func (m *Metrics) IncAssignments() {
	if m == nil {
		return
	}
	m.assignmentsCounter.Inc()
}

func (m *Metrics) IncDryRuns() {
	if m == nil {
		return
	}
	m.dryRunsCounter.Inc()
}

func (m *Metrics) IncExecutionErrors() {
	if m == nil {
		return
	}
	m.executionErrorsCounter.Inc()
}

func (m *Metrics) IncHalts() {
	if m == nil {
		return
	}
	m.haltsCounter.Inc()
}

// IncEffects counts a propagated effect of kind message, spawn or assignment.
func (m *Metrics) IncEffects(kind string) {
	if m == nil {
		return
	}
	m.effectsCounter.WithLabelValues(kind).Inc()
}

// IncSkippedEffects counts an effect dropped for reason cycle, quota or missing.
func (m *Metrics) IncSkippedEffects(reason string) {
	if m == nil {
		return
	}
	m.skippedEffectsCounter.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetLedgerHeight(height int64) {
	if m == nil {
		return
	}
	m.ledgerHeightGauge.Set(float64(height))
}

func (m *Metrics) ObserveExecute(seconds float64) {
	if m == nil {
		return
	}
	m.executeDuration.Observe(seconds)
}

// ObserveFetch records one remote request. outcome is ok, failed or open
// (rejected by the endpoint's breaker).
func (m *Metrics) ObserveFetch(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.fetchCounter.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) IncFetchRetries() {
	if m == nil {
		return
	}
	m.fetchRetryCounter.Inc()
}

// ObserveCache records a lookup in cache (readahead, docs or disk).
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheCounter.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) AddDriveBytes(n int) {
	if m == nil {
		return
	}
	m.driveBytesCounter.Add(float64(n))
}

// ObserveAdmission records an admission decision: allowed, denied or halted.
func (m *Metrics) ObserveAdmission(decision string) {
	if m == nil {
		return
	}
	m.admissionsCounter.WithLabelValues(decision).Inc()
}
