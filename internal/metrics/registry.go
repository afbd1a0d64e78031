// Package metrics holds the process-wide Prometheus registry. Every
// component in the gateway mutates it; none of them read it back — it is
// observation-only, never a decision input for the pipeline itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every series required by the inference pipeline.
type Registry struct {
	RequestLatency  prometheus.Histogram
	BatchSize       prometheus.Histogram
	BatchLatency    prometheus.Histogram
	QueueDepth      prometheus.Gauge
	QueueRejections prometheus.Counter
	RateLimited     prometheus.Counter
	RequestTimeouts prometheus.Counter

	// PredictorErrors has no analog in the source implementation; see
	// DESIGN.md for the open-question decision to add it. It lets
	// operators distinguish "model is unhealthy" from ordinary overload.
	PredictorErrors prometheus.Counter

	// Process-level gauges populated by the gopsutil sampler. These are
	// ambient observability, not pipeline-load-bearing.
	ProcessCPUPercent prometheus.Gauge
	ProcessRSSBytes   prometheus.Gauge

	reg *prometheus.Registry
}

// New constructs and registers every series against a fresh registry
// (rather than the global default) so tests can spin up independent
// instances without collector-already-registered panics.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_request_latency_seconds",
			Help:    "End-to-end latency per inference request",
			Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.075, 0.1, 0.25, 0.5, 1.0},
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_batch_size",
			Help:    "Number of requests processed per batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		BatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_batch_latency_seconds",
			Help:    "Time spent running model inference for a batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_queue_depth",
			Help: "Current depth of the inference pre-batching queue",
		}),
		QueueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_queue_rejections_total",
			Help: "Total requests rejected due to load shedding/backpressure",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_rate_limited_total",
			Help: "Total requests rejected by the admission token bucket",
		}),
		RequestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_request_timeouts_total",
			Help: "Total requests terminated by the deadline middleware",
		}),
		PredictorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_predictor_errors_total",
			Help: "Total batches that failed because the model raised an error",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_process_cpu_percent",
			Help: "Gateway process CPU utilization, sampled periodically",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_process_rss_bytes",
			Help: "Gateway process resident set size in bytes",
		}),
		reg: reg,
	}

	reg.MustRegister(
		r.RequestLatency,
		r.BatchSize,
		r.BatchLatency,
		r.QueueDepth,
		r.QueueRejections,
		r.RateLimited,
		r.RequestTimeouts,
		r.PredictorErrors,
		r.ProcessCPUPercent,
		r.ProcessRSSBytes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return r
}

// Handler renders the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
