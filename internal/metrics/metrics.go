// Package metrics exposes pipeline counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratasample/internal/scan"
)

const namespace = "stratasample"

type Metrics struct {
	Registry *prometheus.Registry

	Tiles           prometheus.Counter
	TileDuration    prometheus.Histogram
	Candidates      prometheus.Counter
	Sampled         prometheus.Counter
	SkippedExisting prometheus.Counter
	Extracted       prometheus.Counter
	ReadFailures    prometheus.Counter
	Inserted        prometheus.Counter
	Flushes         *prometheus.CounterVec
	FlushedRecords  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Tiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_scanned_total",
			Help:      "Raster tiles read by the scanner.",
		}),
		TileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_scan_duration_seconds",
			Help:      "Time spent reading and classifying one tile.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Valid pixels collected into class pools.",
		}),
		Sampled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampled_points_total",
			Help:      "Points drawn by the stratified sampler.",
		}),
		SkippedExisting: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "existing_points_skipped_total",
			Help:      "Sampled points dropped because their identity is already stored.",
		}),
		Extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Records produced by the temporal extractor.",
		}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Point-period reads skipped after a failure or non-finite value.",
		}),
		Inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Records appended to the store.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batch flushes by outcome.",
		}, []string{"outcome"}),
		FlushedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_records_total",
			Help:      "Records in flushed batches by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		m.Tiles, m.TileDuration, m.Candidates, m.Sampled, m.SkippedExisting,
		m.Extracted, m.ReadFailures, m.Inserted, m.Flushes, m.FlushedRecords,
	)
	return m
}

// ObserveTile is a scan.Scanner OnTile hook.
func (m *Metrics) ObserveTile(t scan.TileStats) {
	m.Tiles.Inc()
	m.TileDuration.Observe(t.Duration.Seconds())
	m.Candidates.Add(float64(t.Candidates))
}

// ObserveFlush is a sink.Batcher OnFlush hook.
func (m *Metrics) ObserveFlush(outcome string, records int) {
	m.Flushes.WithLabelValues(outcome).Inc()
	m.FlushedRecords.WithLabelValues(outcome).Add(float64(records))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
