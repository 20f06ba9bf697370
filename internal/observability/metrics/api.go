package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIMetrics covers the HTTP surface and the ask pipeline.
type APIMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askTotal            *prometheus.CounterVec
	cacheLookupTotal    *prometheus.CounterVec
	conversationalTotal *prometheus.CounterVec
	noContextTotal      *prometheus.CounterVec
	retrievedChunks     *prometheus.HistogramVec
	invalidCitations    *prometheus.CounterVec
	answerConfidence    *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	llmTokensTotal      *prometheus.CounterVec
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragcore",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "ask_total",
			Help:      "Total completed ask requests by outcome.",
		},
		[]string{"service", "mode", "outcome"},
	)
	cacheLookupTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "cache",
			Name:      "lookup_total",
			Help:      "Response-cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	conversationalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "conversational_total",
			Help:      "Questions short-circuited by the conversational check.",
		},
		[]string{"service"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "no_context_total",
			Help:      "Ask requests answered with the no-context fallback.",
		},
		[]string{"service"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per ask request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	invalidCitations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "invalid_citations_total",
			Help:      "Out-of-range citation markers found in generated answers.",
		},
		[]string{"service"},
	)
	answerConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "answer_confidence",
			Help:      "Distribution of overall answer confidence.",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Provider token usage by direction.",
		},
		[]string{"service", "direction"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askTotal,
		cacheLookupTotal,
		conversationalTotal,
		noContextTotal,
		retrievedChunks,
		invalidCitations,
		answerConfidence,
		stageDuration,
		llmTokensTotal,
	)

	return &APIMetrics{
		registry:            registry,
		service:             service,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		askTotal:            askTotal,
		cacheLookupTotal:    cacheLookupTotal,
		conversationalTotal: conversationalTotal,
		noContextTotal:      noContextTotal,
		retrievedChunks:     retrievedChunks,
		invalidCitations:    invalidCitations,
		answerConfidence:    answerConfidence,
		stageDuration:       stageDuration,
		llmTokensTotal:      llmTokensTotal,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/v1/tenants/") {
		return "/v1/tenants/{tenant_id}/cache/invalidate"
	}
	return path
}

// RecordAsk records one completed pipeline run.
func (m *APIMetrics) RecordAsk(mode string, chunkCount, invalidCitationCount int, confidence float64, cacheHit, conversational bool) {
	outcome := "answered"
	switch {
	case conversational:
		outcome = "conversational"
		m.conversationalTotal.WithLabelValues(m.service).Inc()
	case cacheHit:
		outcome = "cache_hit"
	case chunkCount == 0:
		outcome = "no_context"
		m.noContextTotal.WithLabelValues(m.service).Inc()
	}
	m.askTotal.WithLabelValues(m.service, mode, outcome).Inc()

	if !conversational {
		m.cacheLookupTotal.WithLabelValues(m.service, cacheResult(cacheHit)).Inc()
	}
	if !conversational && !cacheHit {
		m.retrievedChunks.WithLabelValues(m.service).Observe(float64(chunkCount))
		m.answerConfidence.WithLabelValues(m.service).Observe(confidence)
		if invalidCitationCount > 0 {
			m.invalidCitations.WithLabelValues(m.service).Add(float64(invalidCitationCount))
		}
	}
}

func (m *APIMetrics) RecordAskError(mode string) {
	m.askTotal.WithLabelValues(m.service, mode, "error").Inc()
}

func (m *APIMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordTokenUsage(embeddingTokens, promptTokens, completionTokens int) {
	if embeddingTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "embedding").Add(float64(embeddingTokens))
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "in").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "out").Add(float64(completionTokens))
	}
}

func cacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
