package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("/api/cart", http.MethodGet, 200, 12)
	m.ObserveRequest("/api/cart", http.MethodGet, 404, 3)
	m.CheckoutOutcome("completed")
	m.PaymentResult("cod", true)
	m.PaymentResult("cod", false)
	m.OutboxPublished(true, 3)
	m.OutboxBacklog(7)
	m.CartCache(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/cart", "GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/cart", "GET", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkouts.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Payments.WithLabelValues("cod", "declined")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublish.WithLabelValues("ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CartCacheReads.WithLabelValues("hit")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("/", "GET", 200, 1)
		m.CheckoutOutcome("completed")
		m.PaymentResult("cod", true)
		m.StatusChanged("shipped")
		m.OutboxPublished(false, 1)
		m.OutboxBacklog(1)
		m.CartCache(false)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CheckoutOutcome("payment_failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `storefront_checkouts_total{outcome="payment_failed"} 1`)
}
