package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenspay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lenspay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenspay_webhook_events_total",
			Help: "Total number of webhook events ingested",
		},
		[]string{"provider", "status"},
	)

	ChargesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenspay_charges_recorded_total",
			Help: "Total number of transactions recorded on the ledger",
		},
		[]string{"type", "currency"},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenspay_payouts_total",
			Help: "Total number of payout attempts by terminal status",
		},
		[]string{"method", "status"},
	)

	PayoutAmountMinorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenspay_payout_amount_minor_total",
			Help: "Sum of completed payout amounts in minor units",
		},
		[]string{"currency"},
	)

	BatchRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lenspay_batch_runs_total",
			Help: "Total number of batch threshold sweeps",
		},
	)

	RetryResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lenspay_retry_resets_total",
			Help: "Total number of failed payouts reset to pending",
		},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lenspay_provider_call_duration_seconds",
			Help:    "Payout provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordWebhookEvent(provider, status string) {
	WebhookEventsTotal.WithLabelValues(provider, status).Inc()
}

func RecordCharge(txType, currency string) {
	ChargesRecordedTotal.WithLabelValues(txType, currency).Inc()
}

func RecordPayout(method, status string) {
	PayoutsTotal.WithLabelValues(method, status).Inc()
}

func RecordPayoutAmount(currency string, amountMinor int64) {
	PayoutAmountMinorTotal.WithLabelValues(currency).Add(float64(amountMinor))
}

func RecordProviderCall(outcome string, duration float64) {
	ProviderCallDuration.WithLabelValues(outcome).Observe(duration)
}
