package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newRebuildCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.HistogramVec) {
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "total",
			Help:      "Total index rebuilds by mode and status.",
		},
		[]string{"service", "mode", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Index rebuild duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	chunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "chunks",
			Help:      "Chunks written per successful rebuild.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
		},
		[]string{"service"},
	)
	return total, duration, chunks
}

func recordRebuild(
	total *prometheus.CounterVec,
	duration, chunks *prometheus.HistogramVec,
	service, mode string,
	chunkCount int,
	elapsed time.Duration,
	err error,
) {
	if mode == "" {
		mode = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	total.WithLabelValues(service, mode, status).Inc()
	// Queued rebuilds finish elsewhere; only count the hand-off.
	if mode == "queued" {
		return
	}
	duration.WithLabelValues(service, status).Observe(elapsed.Seconds())
	if err == nil {
		chunks.WithLabelValues(service).Observe(float64(chunkCount))
	}
}

func newSourceFetchCollector() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_total",
			Help:      "Repository tree and file lookups by outcome (cache_hit, fetched, error).",
		},
		[]string{"service", "operation", "outcome"},
	)
}

// SourceFetchObserver counts cached source lookups for one service.
type SourceFetchObserver struct {
	service string
	counter *prometheus.CounterVec
}

func (o SourceFetchObserver) ObserveSourceFetch(operation, outcome string) {
	if o.counter == nil {
		return
	}
	o.counter.WithLabelValues(o.service, operation, outcome).Inc()
}
