// Package metrics exposes the service's Prometheus collectors. Collectors are
// registered on the default registry at startup and shared process-wide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration observes HTTP request latency per route and status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// InvoicesCreated counts invoices accepted per currency and gateway.
	InvoicesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_invoices_created_total",
			Help: "Total number of invoices created",
		},
		[]string{"currency", "gateway"},
	)

	// InvoicesExpired counts invoices flipped to expired by the sweeper.
	InvoicesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_invoices_expired_total",
			Help: "Total number of invoices expired by the background sweep",
		},
	)

	// PaymentsRecorded counts settled payment transactions per gateway.
	PaymentsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_payments_recorded_total",
			Help: "Total number of payment transactions recorded",
		},
		[]string{"gateway", "currency"},
	)

	// WebhooksProcessed counts webhook deliveries per gateway and outcome.
	WebhooksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhooks_processed_total",
			Help: "Total number of webhook deliveries by final outcome",
		},
		[]string{"gateway", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration,
		InvoicesCreated,
		InvoicesExpired,
		PaymentsRecorded,
		WebhooksProcessed,
	)
}

// Handler returns the exposition endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
