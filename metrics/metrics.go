// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	passes             prometheus.Counter
	passFailures       prometheus.Counter
	releasesDiscovered prometheus.Counter
	notificationsSent  prometheus.Counter
	deliveryFailures   prometheus.Counter
	pollsCreated       prometheus.Counter
	queueDepth         prometheus.Gauge
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_passes_total",
			Help: "Completed diff passes.",
		}),
		passFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_pass_failures_total",
			Help: "Diff passes aborted before completion.",
		}),
		releasesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_releases_discovered_total",
			Help: "New releases accepted by the diff engine.",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_notifications_sent_total",
			Help: "Notifications delivered to the sink.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_delivery_failures_total",
			Help: "Notifications dropped after a send failure.",
		}),
		pollsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_polls_created_total",
			Help: "Rating polls created, including fallback polls.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifier_queue_depth",
			Help: "Notifications waiting in the delivery queue.",
		}),
	}

	c.registry.MustRegister(
		c.passes,
		c.passFailures,
		c.releasesDiscovered,
		c.notificationsSent,
		c.deliveryFailures,
		c.pollsCreated,
		c.queueDepth,
	)
	return c
}

// RecordPass counts a completed diff pass.
func (c *Collector) RecordPass() { c.passes.Inc() }

// RecordPassFailure counts an aborted diff pass.
func (c *Collector) RecordPassFailure() { c.passFailures.Inc() }

// RecordReleasesDiscovered counts releases accepted as new.
func (c *Collector) RecordReleasesDiscovered(n int) { c.releasesDiscovered.Add(float64(n)) }

// RecordNotificationSent counts a delivered notification.
func (c *Collector) RecordNotificationSent() { c.notificationsSent.Inc() }

// RecordDeliveryFailure counts a dropped notification.
func (c *Collector) RecordDeliveryFailure() { c.deliveryFailures.Inc() }

// RecordPollCreated counts a created poll.
func (c *Collector) RecordPollCreated() { c.pollsCreated.Inc() }

// SetQueueDepth tracks the current delivery queue length.
func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
