package metrics

import "github.com/prometheus/client_golang/prometheus"

// CheckoutMetrics exposes counters/histograms for the checkout flow.
type CheckoutMetrics struct {
	sessionsOpened    *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	advanceAttempts   *prometheus.CounterVec
	paymentsConfirmed prometheus.Counter
	timersExpired     prometheus.Counter
	handlerLatency    *prometheus.HistogramVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	m := &CheckoutMetrics{
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Checkout sessions opened, by outcome",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Checkout sessions currently held in memory",
		}),
		advanceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "steps",
			Name:      "advance_attempts_total",
			Help:      "Attempts to move from the details step to the payment step",
		}, []string{"outcome", "field"}),
		paymentsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "payments",
			Name:      "confirmed_total",
			Help:      "Simulated payments marked as completed",
		}),
		timersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "timer",
			Name:      "expired_total",
			Help:      "Reservation timers that reached 00:00",
		}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: "http",
			Name:      "handler_latency_seconds",
			Help:      "Latency of checkout handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.sessionsOpened,
		m.activeSessions,
		m.advanceAttempts,
		m.paymentsConfirmed,
		m.timersExpired,
		m.handlerLatency,
	)
	return m
}

// ObserveSessionOpened records a session open attempt ("created" or "throttled").
func (m *CheckoutMetrics) ObserveSessionOpened(outcome string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveAdvance records an advance attempt. field is the first failing field,
// empty on success.
func (m *CheckoutMetrics) ObserveAdvance(outcome, field string) {
	if m == nil {
		return
	}
	m.advanceAttempts.WithLabelValues(outcome, field).Inc()
}

func (m *CheckoutMetrics) ObservePaymentConfirmed() {
	if m == nil {
		return
	}
	m.paymentsConfirmed.Inc()
}

func (m *CheckoutMetrics) ObserveTimerExpired() {
	if m == nil {
		return
	}
	m.timersExpired.Inc()
}

func (m *CheckoutMetrics) ObserveHandlerLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.handlerLatency.WithLabelValues(route).Observe(seconds)
}
