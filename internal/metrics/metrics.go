package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// CapabilityRequestsTotal counts AI-backed actions by outcome.
	CapabilityRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_capability_requests_total",
			Help: "AI capability invocations by outcome",
		},
		[]string{"capability", "outcome"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salon_capability_duration_seconds",
			Help:    "End-to-end capability latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"capability"},
	)

	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salon_quota_rejections_total",
			Help: "Requests rejected by the daily usage cap",
		},
	)

	PersistenceWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_persistence_warnings_total",
			Help: "Charged results that could not be stored",
		},
		[]string{"record"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salon_upload_size_bytes",
			Help:    "Size of accepted photo uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 9),
		},
	)

	TimelineImageFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salon_timeline_image_failures_total",
			Help: "Timeline week images that failed to generate",
		},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_payments_total",
			Help: "Payment events by provider and status",
		},
		[]string{"provider", "status"},
	)
)

func RecordHTTPRequest(method, route, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func RecordCapability(capability, outcome string, seconds float64) {
	CapabilityRequestsTotal.WithLabelValues(capability, outcome).Inc()
	CapabilityDuration.WithLabelValues(capability).Observe(seconds)
}

func RecordQuotaRejection() {
	QuotaRejectionsTotal.Inc()
}

func RecordPersistenceWarning(record string) {
	PersistenceWarningsTotal.WithLabelValues(record).Inc()
}

func RecordUpload(size int) {
	UploadSizeBytes.Observe(float64(size))
}

func RecordTimelineImageFailure() {
	TimelineImageFailuresTotal.Inc()
}

func RecordPayment(provider, status string) {
	PaymentsTotal.WithLabelValues(provider, status).Inc()
}
