// Package metrics exports analysis run metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ado_ai"

// Metrics holds the collectors updated by the orchestrator and the web API
type Metrics struct {
	// Run metrics
	RunsTotal    *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// LLM usage
	TokensTotal *prometheus.CounterVec
	CostUSD     prometheus.Counter

	// Web API
	HTTPRequests   *prometheus.CounterVec
	RateLimited    prometheus.Counter
	BackgroundRuns prometheus.Gauge
	FilesWritten   prometheus.Counter

	registry prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Workflow runs by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		StepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"step"},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "LLM tokens consumed by direction",
			},
			[]string{"direction"},
		),
		CostUSD: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_cost_usd_total",
				Help:      "Estimated LLM cost in USD",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		RateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyze_rate_limited_total",
				Help:      "Analyze requests rejected by the rate limiter",
			},
		),
		BackgroundRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "background_runs",
				Help:      "Background analysis runs in progress",
			},
		),
		FilesWritten: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_written_total",
				Help:      "Files written by apply-files",
			},
		),
		registry: reg,
	}
}

// ObserveStep records the duration of a workflow step.
func (m *Metrics) ObserveStep(step string, start time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(operation string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RunsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordUsage adds token counts and cost.
func (m *Metrics) RecordUsage(input, output int, cost float64) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input").Add(float64(input))
	m.TokensTotal.WithLabelValues("output").Add(float64(output))
	m.CostUSD.Add(cost)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
