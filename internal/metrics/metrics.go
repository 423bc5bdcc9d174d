// Package metrics exposes Prometheus counters for the notebook: versions
// written, model runs, LLM calls and evaluation scores.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sparkling"

type Collector struct {
	registry *prometheus.Registry

	versions    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	llmCalls    *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	evalScores  *prometheus.HistogramVec
	httpLatency *prometheus.HistogramVec
}

// New registers all metrics on registry, or on a fresh registry when nil.
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &Collector{
		registry: registry,
		versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_appended_total",
			Help:      "Prompt versions appended, by kind",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Prompt runs by status and model",
		}, []string{"status", "model"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_latency_seconds",
			Help:      "Wall-clock latency of prompt runs",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"provider", "direction"}),
		evalScores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_score",
			Help:      "Evaluation scores by kind",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.8, 1, 10, 25, 50, 75, 100},
		}, []string{"kind"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(c.versions, c.runs, c.runLatency, c.llmCalls, c.llmTokens, c.evalScores, c.httpLatency)
	return c
}

func (c *Collector) VersionAppended(kind string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	c.versions.WithLabelValues(kind).Inc()
}

func (c *Collector) RunFinished(model, status string, latency time.Duration) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(status, model).Inc()
	if status == "success" {
		c.runLatency.WithLabelValues(model).Observe(latency.Seconds())
	}
}

func (c *Collector) LLMCall(provider, outcome string, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.llmCalls.WithLabelValues(provider, outcome).Inc()
	if inputTokens > 0 {
		c.llmTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

func (c *Collector) EvaluationScored(kind string, score float64) {
	if c == nil {
		return
	}
	c.evalScores.WithLabelValues(kind).Observe(score)
}

func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpLatency.WithLabelValues(method, route, http.StatusText(status)).Observe(d.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
