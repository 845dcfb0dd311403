package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline counters on its own registry.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	NamesCreated      prometheus.Counter
	PublishFailures   prometheus.Counter
	MessagesProcessed *prometheus.CounterVec
	FullNamesCreated  prometheus.Counter
}

// New registers a fresh set of metrics under namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		NamesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "name_entries_created_total",
			Help:      "Name entries written by the ingest path",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Derivation messages that could not be published after the entry was stored",
		}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Derivation messages handled by the consumer, by result",
		}, []string{"result"}),
		FullNamesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_names_created_total",
			Help:      "Full name records written by the consumer",
		}),
	}
	c.registry.MustRegister(
		c.HTTPRequests,
		c.NamesCreated,
		c.PublishFailures,
		c.MessagesProcessed,
		c.FullNamesCreated,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
