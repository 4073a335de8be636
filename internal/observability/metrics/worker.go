package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	rebuildTotal    *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
	rebuildChunks   *prometheus.HistogramVec
	rebuildInFlight prometheus.Gauge
	sourceFetch     *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	rebuildTotal, rebuildDuration, rebuildChunks := newRebuildCollectors()
	rebuildInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "rebuild_in_flight",
			Help:      "Number of in-flight index rebuilds.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sourceFetch := newSourceFetchCollector()

	registry.MustRegister(rebuildTotal, rebuildDuration, rebuildChunks, rebuildInFlight, sourceFetch)

	return &WorkerMetrics{
		registry:        registry,
		rebuildTotal:    rebuildTotal,
		rebuildDuration: rebuildDuration,
		rebuildChunks:   rebuildChunks,
		rebuildInFlight: rebuildInFlight,
		sourceFetch:     sourceFetch,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRebuild() {
	m.rebuildInFlight.Inc()
}

func (m *WorkerMetrics) FinishRebuild(service string, chunks int, duration time.Duration, err error) {
	m.rebuildInFlight.Dec()
	recordRebuild(m.rebuildTotal, m.rebuildDuration, m.rebuildChunks, service, "worker", chunks, duration, err)
}

func (m *WorkerMetrics) SourceFetchObserver(service string) SourceFetchObserver {
	return SourceFetchObserver{service: service, counter: m.sourceFetch}
}
