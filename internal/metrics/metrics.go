// Package metrics exposes Prometheus collectors for the mailbox ring,
// hash table, and worker dispatch, scraped over /metrics on the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the server.
type Registry struct {
	RingSize          prometheus.Gauge
	RingCapacity      prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	ResponsesTotal    *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram

	HashTableSize     prometheus.Gauge
	HashTableCapacity prometheus.Gauge
	ResizesTotal      *prometheus.CounterVec

	WorkerBusy prometheus.Gauge

	BulkRegionsOpen prometheus.Gauge
}

// NewRegistry creates and registers all collectors against the default
// Prometheus registry using promauto.
func NewRegistry() *Registry {
	return &Registry{
		RingSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_ring_size",
			Help: "Current number of occupied slots in the request ring.",
		}),
		RingCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_ring_capacity",
			Help: "Capacity of the request ring (the compiled slot count).",
		}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shmkv_requests_total",
			Help: "Total requests dispatched by kind.",
		}, []string{"kind"}),
		ResponsesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shmkv_responses_total",
			Help: "Total responses written by kind and success.",
		}, []string{"kind", "success"}),
		HandshakeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shmkv_handshake_duration_seconds",
			Help:    "Time from request pop to response publish per slot.",
			Buckets: prometheus.DefBuckets,
		}),
		HashTableSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_hashtable_size",
			Help: "Current number of entries in the hash table.",
		}),
		HashTableCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_hashtable_capacity",
			Help: "Current bucket count of the hash table.",
		}),
		ResizesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shmkv_hashtable_resizes_total",
			Help: "Total resize operations by direction.",
		}, []string{"direction"}),
		WorkerBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_workers_busy",
			Help: "Number of worker goroutines currently executing a request.",
		}),
		BulkRegionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shmkv_bulk_regions_open",
			Help: "Number of bulk-reply side-channel regions currently open.",
		}),
	}
}

// Handler returns the HTTP handler serving the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
