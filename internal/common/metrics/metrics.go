package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initialized_total",
			Help: "Total number of payment sessions initialized",
		},
		[]string{"gateway"},
	)

	PaymentsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_confirmed_total",
			Help: "Total number of payments confirmed by the backend",
		},
		[]string{"gateway"},
	)

	PaymentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Total number of failed payment confirmations",
		},
		[]string{"gateway", "error_code"},
	)

	PaymentsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_cancelled_total",
			Help: "Total number of payments cancelled by the user",
		},
		[]string{"gateway"},
	)

	ConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "payment_confirm_duration_seconds",
			Help: "Duration of the backend confirmation call in seconds",
		},
		[]string{"gateway"},
	)
)
