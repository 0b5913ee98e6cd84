// Package metrics exposes the mailbox's prometheus collectors, grouped
// into one Registry the way ClusterCockpit-cc-backend registers its
// collectors against a shared *prometheus.Registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge the mailbox server exposes.
type Registry struct {
	reg *prometheus.Registry

	BlobsStored     prometheus.Counter
	BlobsFetched    prometheus.Counter
	WatermarksMoved prometheus.Counter
	BlobsReaped     prometheus.Counter
}

// New constructs and registers the mailbox's collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		BlobsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailbox",
			Name:      "blobs_stored_total",
			Help:      "Number of blob rows inserted by store_blobs.",
		}),
		BlobsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailbox",
			Name:      "blobs_fetched_total",
			Help:      "Number of blob rows returned by get_blobs.",
		}),
		WatermarksMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailbox",
			Name:      "watermarks_advanced_total",
			Help:      "Number of times a (topic, author) watermark advanced.",
		}),
		BlobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailbox",
			Name:      "blobs_reaped_total",
			Help:      "Number of blob rows deleted by the retention task.",
		}),
	}
	reg.MustRegister(r.BlobsStored, r.BlobsFetched, r.WatermarksMoved, r.BlobsReaped)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
