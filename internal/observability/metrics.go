package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	gradingRunsTotal       *prometheus.CounterVec
	gradingDurationSeconds prometheus.Histogram
	gradeOverridesTotal    prometheus.Counter
	statsCacheLookupsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assess_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assess_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assess_grading_runs_total",
			Help: "Total number of grading runs by outcome.",
		}, []string{"outcome"})

		gradingDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assess_grading_duration_seconds",
			Help:    "Wall time of full grading runs including code execution.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		})

		gradeOverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assess_grade_overrides_total",
			Help: "Total number of manual grade overrides applied.",
		})

		statsCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assess_stats_cache_lookups_total",
			Help: "Statistics cache lookups by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			gradingRunsTotal,
			gradingDurationSeconds,
			gradeOverridesTotal,
			statsCacheLookupsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// GradingRuns exposes the counter for grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingDuration exposes the histogram of grading run wall time.
func GradingDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingDurationSeconds
}

// GradeOverrides exposes the counter for manual overrides.
func GradeOverrides() prometheus.Counter {
	RegisterMetrics()
	return gradeOverridesTotal
}

// StatsCacheLookups exposes the counter for statistics cache lookups.
func StatsCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return statsCacheLookupsTotal
}
