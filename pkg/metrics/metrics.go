// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_resolutions_total",
			Help: "Total number of resolved queries by classification type.",
		},
		[]string{"type"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_cache_lookups_total",
			Help: "Resolution cache lookups by result.",
		},
		[]string{"result"}, // hit, miss
	)
	pipelineExecutionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ekaya_query_pipeline_executions_total",
			Help: "Total number of resolution pipelines executed (cache misses that ran).",
		},
	)
	degradedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_degraded_results_total",
			Help: "Results returned with a failed or timed-out branch, by branch.",
		},
		[]string{"branch"},
	)
	securityViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_security_violations_total",
			Help: "Queries rejected as security violations, by stage.",
		},
		[]string{"stage"},
	)
	discoveryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_query_schema_discovery_duration_seconds",
			Help:    "Schema discovery and annotation latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"connection", "status"},
	)
	oracleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_oracle_outcomes_total",
			Help: "Semantic oracle calls by request kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	branchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_query_branch_duration_seconds",
			Help:    "Structured and document branch latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"branch"},
	)
	oracleCircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ekaya_query_oracle_circuit_open",
			Help: "1 while the oracle circuit breaker is open, else 0.",
		},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_query_mcp_tool_calls_total",
			Help: "MCP tool calls by tool and outcome.",
		},
		[]string{"tool", "status"}, // ok, rejected, error
	)
	toolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_query_mcp_tool_call_duration_seconds",
			Help:    "MCP tool call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(
		resolutionsTotal,
		cacheLookupsTotal,
		pipelineExecutionsTotal,
		degradedResultsTotal,
		securityViolationsTotal,
		discoveryDurationSeconds,
		oracleOutcomesTotal,
		branchDurationSeconds,
		oracleCircuitOpen,
		toolCallsTotal,
		toolCallDurationSeconds,
	)
}

func ObserveResolution(queryType string) {
	resolutionsTotal.WithLabelValues(queryType).Inc()
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func IncrementPipelineExecutions() {
	pipelineExecutionsTotal.Inc()
}

func ObserveDegraded(branch string) {
	degradedResultsTotal.WithLabelValues(branch).Inc()
}

func ObserveSecurityViolation(stage string) {
	securityViolationsTotal.WithLabelValues(stage).Inc()
}

func ObserveDiscovery(connectionID string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	discoveryDurationSeconds.WithLabelValues(connectionID, status).Observe(elapsed.Seconds())
}

func ObserveOracleOutcome(kind, status string) {
	oracleOutcomesTotal.WithLabelValues(kind, status).Inc()
}

// SetOracleCircuitOpen records the oracle breaker position.
func SetOracleCircuitOpen(open bool) {
	if open {
		oracleCircuitOpen.Set(1)
		return
	}
	oracleCircuitOpen.Set(0)
}

func ObserveBranch(branch string, elapsed time.Duration) {
	branchDurationSeconds.WithLabelValues(branch).Observe(elapsed.Seconds())
}

func ObserveToolCall(tool, status string, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDurationSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}
