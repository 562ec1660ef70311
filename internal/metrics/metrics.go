// Package metrics exposes Prometheus instruments for the gateway and the
// extraction pipeline on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "concept"

// Metrics implements gateway.Observer and pipeline.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	gatewayCalls     *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	documents        *prometheus.CounterVec
	chunks           prometheus.Counter
	chunkFailures    prometheus.Counter
	correctionPasses prometheus.Histogram
	confidence       prometheus.Histogram
	tokens           *prometheus.CounterVec
}

// New registers all instruments on a fresh registry. Go and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
			prometheus.NewGoCollector(),
		)
	}

	m := &Metrics{
		registry: reg,
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Model gateway calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Model gateway call latency including retries.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"provider"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cache_lookups_total",
			Help:      "Reply cache lookups by result.",
		}, []string{"result"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents processed by QA verdict.",
		}, []string{"qa"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "chunks_total",
			Help:      "Chunks sent for extraction.",
		}),
		chunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "chunk_failures_total",
			Help:      "Chunks whose reply was unusable.",
		}),
		correctionPasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "correction_passes",
			Help:      "Self-correction passes run per document.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "overall_confidence",
			Help:      "Final overall confidence per document.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tokens_total",
			Help:      "Model tokens consumed by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.gatewayCalls,
		m.gatewayLatency,
		m.cacheLookups,
		m.stageLatency,
		m.documents,
		m.chunks,
		m.chunkFailures,
		m.correctionPasses,
		m.confidence,
		m.tokens,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveGatewayCall records one gateway call.
func (m *Metrics) ObserveGatewayCall(provider, outcome string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(provider, outcome).Inc()
	m.gatewayLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a reply cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveStage records the latency of a named pipeline stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveChunks records how many chunks were extracted and how many failed.
func (m *Metrics) ObserveChunks(total, failed int) {
	m.chunks.Add(float64(total))
	m.chunkFailures.Add(float64(failed))
}

// ObserveDocument records the outcome of one pipeline run.
func (m *Metrics) ObserveDocument(valid bool, confidence float64, passes int, inputTokens, outputTokens int64) {
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	m.documents.WithLabelValues(verdict).Inc()
	m.confidence.Observe(confidence)
	m.correctionPasses.Observe(float64(passes))
	m.tokens.WithLabelValues("input").Add(float64(inputTokens))
	m.tokens.WithLabelValues("output").Add(float64(outputTokens))
}
