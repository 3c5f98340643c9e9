// Package metrics holds the Prometheus collectors for provider calls, the
// orchestrator and the batch queue.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is safe to use as a nil pointer; every Record method is then a
// no-op.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	retriesTotal         *prometheus.CounterVec
	variationsTotal      *prometheus.CounterVec

	batchJobsTotal     *prometheus.CounterVec
	batchQueueDepth    prometheus.Gauge
	batchRequestsTotal *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.providerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Adapter calls by provider and outcome kind (ok when successful)",
		},
		[]string{"provider", "outcome"},
	)

	c.providerCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Adapter call latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Retried adapter calls by provider and error kind",
		},
		[]string{"provider", "kind"},
	)

	c.variationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variation_outcomes_total",
			Help:      "Final variation outcomes by provider",
		},
		[]string{"provider", "outcome"},
	)

	c.batchJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Finished batch jobs by terminal status",
		},
		[]string{"status"},
	)

	c.batchQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_queue_depth",
			Help:      "Batch jobs waiting to run",
		},
	)

	c.batchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_requests_total",
			Help:      "Processed batch requests by outcome",
		},
		[]string{"outcome"},
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProviderCall counts one adapter attempt. outcome is "ok" or an
// error kind.
func (c *Collector) RecordProviderCall(provider, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	c.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (c *Collector) RecordRetry(provider, kind string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(provider, kind).Inc()
}

func (c *Collector) RecordVariation(provider, outcome string) {
	if c == nil {
		return
	}
	c.variationsTotal.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordBatchJob(status string) {
	if c == nil {
		return
	}
	c.batchJobsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) RecordBatchRequest(outcome string) {
	if c == nil {
		return
	}
	c.batchRequestsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.batchQueueDepth.Set(float64(n))
}
