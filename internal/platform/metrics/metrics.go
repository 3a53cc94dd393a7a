// Package metrics exposes the Prometheus collectors shared across services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics records request counts and latencies for the REST surface.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(namespace string) *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed, labeled by route and status.",
		}, []string{"method", "route", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *HTTPMetrics) RecordRequest(method, route, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, status).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// BusinessMetrics tracks domain counters the Outbox/Saga/Notification
// components increment as side effects of otherwise silent background work.
type BusinessMetrics struct {
	OrdersCreated          prometheus.Counter
	OrdersCancelled        prometheus.Counter
	ReservationsSucceeded  prometheus.Counter
	ReservationsFailed     prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsPending   prometheus.Counter
	OutboxDrained          prometheus.Counter
	OutboxDrainErrors      prometheus.Counter
}

func NewBusinessMetrics(namespace string) *BusinessMetrics {
	counter := func(name, help string) prometheus.Counter {
		return promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &BusinessMetrics{
		OrdersCreated:          counter("orders_created_total", "Orders successfully created."),
		OrdersCancelled:        counter("orders_cancelled_total", "Orders cancelled, any origin status."),
		ReservationsSucceeded:  counter("reservations_succeeded_total", "Stock reservations that succeeded."),
		ReservationsFailed:     counter("reservations_failed_total", "Stock reservations that failed."),
		NotificationsDelivered: counter("notifications_delivered_total", "Notifications pushed to a live session."),
		NotificationsPending:   counter("notifications_pending_total", "Notifications persisted with no live session."),
		OutboxDrained:          counter("outbox_drained_total", "Outbox rows published and marked processed."),
		OutboxDrainErrors:      counter("outbox_drain_errors_total", "Outbox rows that failed to publish on a drain tick."),
	}
}

// Handler returns the /metrics HTTP handler for the Prometheus scraper.
func Handler() http.Handler {
	return promhttp.Handler()
}
