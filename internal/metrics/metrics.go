// Package metrics exposes Prometheus telemetry for the price pipeline:
// run outcomes, stage progression, fetch failures and publication volume.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage values reported by the stage gauge.
const (
	StageOfficial    = 1
	StageProvisional = 2
	StageGenerated   = 3
)

// Collector owns a private registry so tests can create as many as they
// like without clashing on the default one.
type Collector struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	stageReached       *prometheus.GaugeVec
	fetchFailures      *prometheus.CounterVec
	publishedIntervals *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
}

// NewCollector creates a collector. An empty namespace defaults to "dayahead".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "dayahead"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by area and outcome (complete, incomplete, failed, skipped)",
		},
		[]string{"area", "outcome"},
	)

	c.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"area"},
	)

	c.stageReached = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_reached",
			Help:      "Last stage reached by the most recent run (1=official, 2=provisional, 3=generated)",
		},
		[]string{"area"},
	)

	c.fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "fetch_failures_total",
			Help:      "Provider fetches that failed and were degraded to an empty batch",
		},
		[]string{"area", "origin"},
	)

	c.publishedIntervals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "intervals_total",
			Help:      "Price intervals published by area and origin",
		},
		[]string{"area", "origin"},
	)

	c.publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Publication failures by sink (bus, store, archive)",
		},
		[]string{"area", "sink"},
	)

	c.registry.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.stageReached,
		c.fetchFailures,
		c.publishedIntervals,
		c.publishErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordRun counts a finished run and observes its duration.
func (c *Collector) RecordRun(area, outcome string, duration time.Duration) {
	c.runsTotal.WithLabelValues(area, outcome).Inc()
	c.runDuration.WithLabelValues(area).Observe(duration.Seconds())
}

// RecordStage sets the stage gauge for area.
func (c *Collector) RecordStage(area string, stage int) {
	c.stageReached.WithLabelValues(area).Set(float64(stage))
}

// RecordFetchFailure counts a degraded provider fetch.
func (c *Collector) RecordFetchFailure(area, origin string) {
	c.fetchFailures.WithLabelValues(area, origin).Inc()
}

// RecordPublished adds n published intervals.
func (c *Collector) RecordPublished(area, origin string, n int) {
	c.publishedIntervals.WithLabelValues(area, origin).Add(float64(n))
}

// RecordPublishError counts a failure writing to sink.
func (c *Collector) RecordPublishError(area, sink string) {
	c.publishErrors.WithLabelValues(area, sink).Inc()
}
