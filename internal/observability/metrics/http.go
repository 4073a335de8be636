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

const namespace = "repoqa"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askTotal        *prometheus.CounterVec
	askDuration     *prometheus.HistogramVec
	askContextItems *prometheus.HistogramVec
	askNoContext    *prometheus.CounterVec
	rebuildTotal    *prometheus.CounterVec
	rebuildChunks   *prometheus.HistogramVec
	rebuildDuration *prometheus.HistogramVec
	sourceFetch     *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
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
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total answered questions by status.",
		},
		[]string{"service", "status"},
	)
	askDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Question answering duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	askContextItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "context_items",
			Help:      "Context items passed to generation by kind.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"service", "kind"},
	)
	askNoContext := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "no_context_total",
			Help:      "Total questions answered without any context.",
		},
		[]string{"service"},
	)
	rebuildTotal, rebuildDuration, rebuildChunks := newRebuildCollectors()
	sourceFetch := newSourceFetchCollector()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askTotal,
		askDuration,
		askContextItems,
		askNoContext,
		rebuildTotal,
		rebuildDuration,
		rebuildChunks,
		sourceFetch,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		askTotal:        askTotal,
		askDuration:     askDuration,
		askContextItems: askContextItems,
		askNoContext:    askNoContext,
		rebuildTotal:    rebuildTotal,
		rebuildDuration: rebuildDuration,
		rebuildChunks:   rebuildChunks,
		sourceFetch:     sourceFetch,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
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
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses project ids so label cardinality stays bounded.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/projects/") {
		return path
	}
	for _, action := range []string{"/rebuild", "/ask", "/index"} {
		if strings.HasSuffix(path, action) {
			return "/v1/projects/{project}" + action
		}
	}
	return "/v1/projects/{project}"
}

// RecordAsk observes one answered question. Errors only count toward the
// total with status "error".
func (m *HTTPServerMetrics) RecordAsk(service string, structural, vector int, duration time.Duration, err error) {
	if err != nil {
		m.askTotal.WithLabelValues(service, "error").Inc()
		return
	}
	m.askTotal.WithLabelValues(service, "success").Inc()
	m.askDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.askContextItems.WithLabelValues(service, "structural").Observe(float64(structural))
	m.askContextItems.WithLabelValues(service, "vector").Observe(float64(vector))
	if structural+vector == 0 {
		m.askNoContext.WithLabelValues(service).Inc()
	}
}

// RecordRebuild observes a rebuild handled by the API. mode is "sync" or "queued".
func (m *HTTPServerMetrics) RecordRebuild(service, mode string, chunks int, duration time.Duration, err error) {
	recordRebuild(m.rebuildTotal, m.rebuildDuration, m.rebuildChunks, service, mode, chunks, duration, err)
}

func (m *HTTPServerMetrics) SourceFetchObserver(service string) SourceFetchObserver {
	return SourceFetchObserver{service: service, counter: m.sourceFetch}
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
