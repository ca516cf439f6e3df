package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s, large campaigns
}

var (
	// MaterializeDuration tracks campaign create/update processing time
	MaterializeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offer_campaign_materialize_duration_seconds",
			Help:    "Duration of campaign offer and voucher materialization in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"operation", "status"},
	)

	// VouchersCreated counts vouchers generated for offers
	VouchersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offer_vouchers_created_total",
		Help: "Number of vouchers generated for merchant offers",
	})

	// CheckoutDuration tracks the latency of claim checkout
	CheckoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offer_checkout_duration_seconds",
			Help:    "Duration of offer checkout requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"status"}, // success or failed
	)

	// ClaimTransitions counts claim state changes by target status
	ClaimTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_claim_transitions_total",
			Help: "Number of offer claim state transitions",
		},
		[]string{"status"},
	)

	// PaymentCallbacks counts gateway callbacks by result
	PaymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_payment_callbacks_total",
			Help: "Number of payment gateway callbacks handled",
		},
		[]string{"result"},
	)

	// VouchersMoved counts vouchers transferred between offers
	VouchersMoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offer_vouchers_moved_total",
		Help: "Number of vouchers moved between merchant offers",
	})
)

// RecordMaterializeDuration records the duration of a campaign create or update
func RecordMaterializeDuration(operation, status string, duration float64) {
	MaterializeDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordVouchersCreated adds n generated vouchers
func RecordVouchersCreated(n int) {
	VouchersCreated.Add(float64(n))
}

// RecordCheckoutDuration records the duration of a checkout request
func RecordCheckoutDuration(status string, duration float64) {
	CheckoutDuration.WithLabelValues(status).Observe(duration)
}

// RecordClaimTransition counts a claim entering status
func RecordClaimTransition(status string) {
	ClaimTransitions.WithLabelValues(status).Inc()
}

// RecordPaymentCallback counts a handled gateway callback
func RecordPaymentCallback(result string) {
	PaymentCallbacks.WithLabelValues(result).Inc()
}

// RecordVouchersMoved adds n moved vouchers
func RecordVouchersMoved(n int) {
	VouchersMoved.Add(float64(n))
}
