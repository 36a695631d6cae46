// Package metrics exposes indexing and retrieval counters on a dedicated
// prometheus registry the host application can mount wherever it serves
// metrics from.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	DocumentsIndexed prometheus.Counter
	IndexFailures    prometheus.Counter
	ChunksEmbedded   prometheus.Counter
	RetrievalQueries prometheus.Counter
	IndexDuration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Name:      "documents_indexed_total",
			Help:      "Documents that reached READY.",
		}),
		IndexFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Name:      "index_failures_total",
			Help:      "Indexing attempts that ended in ERROR.",
		}),
		ChunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Name:      "chunks_embedded_total",
			Help:      "Chunks sent to the embedding model.",
		}),
		RetrievalQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Name:      "retrieval_queries_total",
			Help:      "Nearest-neighbor retrieval queries served.",
		}),
		IndexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docindex",
			Name:      "index_duration_seconds",
			Help:      "Wall-clock duration of single-document indexing.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.Registry.MustRegister(m.DocumentsIndexed, m.IndexFailures, m.ChunksEmbedded, m.RetrievalQueries, m.IndexDuration)
	return m
}
