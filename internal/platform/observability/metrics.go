package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Allocation outcomes recorded by Metrics.ObserveAllocation.
const (
	OutcomeAllocated    = "allocated"
	OutcomeInsufficient = "insufficient"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
)

// Metrics groups the Prometheus collectors exported at /metrics. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	allocations         *prometheus.CounterVec
	allocatedQuantity   *prometheus.CounterVec
	allocationDuration  *prometheus.HistogramVec
	ingestedOrders      *prometheus.CounterVec
	feedMessages        *prometheus.CounterVec
	eventPublishFailure *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry along with the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "picklist_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_allocations_total",
			Help: "Allocation requests by target status and outcome.",
		}, []string{"target", "outcome"}),
		allocatedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_allocated_units_total",
			Help: "Units moved between statuses by allocation.",
		}, []string{"target"}),
		allocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "picklist_allocation_duration_seconds",
			Help:    "Wall time of an allocation including transaction retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		ingestedOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_ingested_orders_total",
			Help: "Orders created by ingestion, by platform.",
		}, []string{"platform"}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_feed_messages_total",
			Help: "Ingestion feed deliveries by result.",
		}, []string{"result"}),
		eventPublishFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picklist_event_publish_failures_total",
			Help: "Order events that could not be published.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.allocations,
		m.allocatedQuantity,
		m.allocationDuration,
		m.ingestedOrders,
		m.feedMessages,
		m.eventPublishFailure,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// ObserveAllocation records an allocation attempt.
func (m *Metrics) ObserveAllocation(target, outcome string, quantity int, latency time.Duration) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(target, outcome).Inc()
	m.allocationDuration.WithLabelValues(target).Observe(latency.Seconds())
	if outcome == OutcomeAllocated && quantity > 0 {
		m.allocatedQuantity.WithLabelValues(target).Add(float64(quantity))
	}
}

// AddIngested counts newly created orders.
func (m *Metrics) AddIngested(platform string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if platform == "" {
		platform = "unknown"
	}
	m.ingestedOrders.WithLabelValues(platform).Add(float64(count))
}

// IncFeedMessage counts a feed delivery by result (ack, requeue, reject).
func (m *Metrics) IncFeedMessage(result string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(result).Inc()
}

// IncEventPublishFailure counts an event that failed to publish.
func (m *Metrics) IncEventPublishFailure(eventType string) {
	if m == nil {
		return
	}
	m.eventPublishFailure.WithLabelValues(eventType).Inc()
}
