package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics groups the collectors of the service. A nil *Metrics is valid and records nothing,
// which keeps tests free of registry plumbing.
type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	Checkouts      *prometheus.CounterVec
	Payments       *prometheus.CounterVec
	StatusChanges  *prometheus.CounterVec
	OutboxPublish  *prometheus.CounterVec
	OutboxPending  prometheus.Gauge
	CartCacheReads *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Simulated payment charges by method and result.",
		}, []string{"method", "result"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		OutboxPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Outbox events handed to the broker by result.",
		}, []string{"result"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_events",
			Help:      "Pending outbox events seen by the last poll.",
		}),
		CartCacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_cache_reads_total",
			Help:      "Cart cache lookups by result.",
		}, []string{"result"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.Checkouts,
		m.Payments,
		m.StatusChanges,
		m.OutboxPublish,
		m.OutboxPending,
		m.CartCacheReads,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(ms)
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PaymentResult(method string, approved bool) {
	if m == nil {
		return
	}
	result := "declined"
	if approved {
		result = "approved"
	}
	m.Payments.WithLabelValues(method, result).Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) OutboxPublished(ok bool, n int) {
	if m == nil || n == 0 {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.OutboxPublish.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) OutboxBacklog(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) CartCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CartCacheReads.WithLabelValues(result).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
