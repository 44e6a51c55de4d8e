package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authstudio"

var (
	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_emitted_total",
			Help:      "Events built by the pipeline, by type and status",
		},
		[]string{"type", "status"},
	)

	eventsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_filtered_total",
			Help:      "Events skipped by include/exclude filters",
		},
	)

	eventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_ingested_total",
			Help:      "Events accepted by the storage provider",
		},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_dropped_total",
			Help:      "Events lost, by reason",
		},
		[]string{"reason"}, // shutdown, error, max_retries
	)

	eventsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_requeued_total",
			Help:      "Events put back for another attempt after a failed write",
		},
	)

	flushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one flushed batch",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Events waiting for the next flush",
		},
	)
)
