package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsReporter implements Reporter with Prometheus counters and
// histograms, following the metrics-registration style this codebase
// already uses elsewhere for per-operation counters.
type MetricsReporter struct {
	tierProcessed *prometheus.CounterVec
	tierAccepted  *prometheus.CounterVec
	tierRejected  *prometheus.CounterVec
	tierSkipped   *prometheus.CounterVec
	spendActual   prometheus.Counter
	spendProjected prometheus.Counter
	cacheHitRate  prometheus.Gauge
	failures      *prometheus.CounterVec
	wallTime      *prometheus.HistogramVec
	tracer        Tracer
}

// NewMetricsReporter registers every metric against reg and returns a
// Reporter combining Prometheus metrics with OpenTelemetry tracing spans.
func NewMetricsReporter(reg prometheus.Registerer, tracer Tracer) *MetricsReporter {
	m := &MetricsReporter{
		tierProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "tier", Name: "processed_total",
			Help: "Items or pairs processed by each pipeline tier.",
		}, []string{"tier"}),
		tierAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "tier", Name: "accepted_total",
			Help: "Items or pairs accepted by each pipeline tier.",
		}, []string{"tier"}),
		tierRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "tier", Name: "rejected_total",
			Help: "Items or pairs rejected by each pipeline tier.",
		}, []string{"tier"}),
		tierSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "tier", Name: "skipped_total",
			Help: "Items or pairs skipped by each pipeline tier (budget denial, provider failure).",
		}, []string{"tier"}),
		spendActual: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "spend", Name: "actual_micros_total",
			Help: "Actual committed spend in micro-dollars.",
		}),
		spendProjected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "spend", Name: "projected_micros_total",
			Help: "Pre-flight projected spend in micro-dollars.",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "correlate", Subsystem: "embedding", Name: "cache_hit_rate",
			Help: "Most recent embedding cache hit rate observed.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlate", Subsystem: "run", Name: "failures_total",
			Help: "Run failures by category.",
		}, []string{"category"}),
		wallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "correlate", Subsystem: "tier", Name: "wall_seconds",
			Help:    "Wall-clock duration of each pipeline tier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		tracer: tracer,
	}

	if reg != nil {
		reg.MustRegister(
			m.tierProcessed, m.tierAccepted, m.tierRejected, m.tierSkipped,
			m.spendActual, m.spendProjected, m.cacheHitRate, m.failures, m.wallTime,
		)
	}
	return m
}

func (m *MetricsReporter) StartSpan(ctx context.Context, stage string) (context.Context, func()) {
	if m.tracer == nil {
		return ctx, func() {}
	}
	spanCtx, end := m.tracer.StartSpan(ctx, stage)
	start := time.Now()
	return spanCtx, func() {
		m.wallTime.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		end()
	}
}

func (m *MetricsReporter) RecordTier(_ string, tc TierCount) {
	m.tierProcessed.WithLabelValues(tc.Tier).Add(float64(tc.Processed))
	m.tierAccepted.WithLabelValues(tc.Tier).Add(float64(tc.Accepted))
	m.tierRejected.WithLabelValues(tc.Tier).Add(float64(tc.Rejected))
	m.tierSkipped.WithLabelValues(tc.Tier).Add(float64(tc.Skipped))
}

func (m *MetricsReporter) RecordSpend(_ string, spend SpendBreakdown) {
	m.spendActual.Add(float64(spend.ActualMicros))
	m.spendProjected.Add(float64(spend.ProjectedMicros))
}

func (m *MetricsReporter) RecordFailure(_ string, category string) {
	m.failures.WithLabelValues(category).Inc()
}

func (m *MetricsReporter) Finish(_ context.Context, report *RunReport) {
	m.cacheHitRate.Set(report.CacheHitRate)
}
