// Package metrics holds the prometheus collectors shared by the API and the
// worker. Every recorder is nil-safe so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger records stock, order and webhook activity.
type Ledger struct {
	reservations  *prometheus.CounterVec
	released      prometheus.Counter
	overRelease   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	if reg == nil {
		return nil
	}
	m := &Ledger{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Stock reservation attempts by outcome.",
		}, []string{"outcome"}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_units_released_total",
			Help: "Units returned to stock by cancellations and refunds.",
		}),
		overRelease: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_over_release_total",
			Help: "Releases that pushed a product above the configured maximum stock.",
		}, []string{"product_id"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Applied order status transitions.",
		}, []string{"from", "to"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment provider events by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(m.reservations, m.released, m.overRelease, m.transitions, m.webhookEvents)
	return m
}

func (m *Ledger) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Ledger) Released(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.released.Add(float64(units))
}

func (m *Ledger) OverRelease(productID string) {
	if m == nil {
		return
	}
	m.overRelease.WithLabelValues(productID).Inc()
}

func (m *Ledger) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Ledger) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

// Jobs records scheduled job runs.
type Jobs struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

func NewJobs(reg prometheus.Registerer) *Jobs {
	if reg == nil {
		return nil
	}
	m := &Jobs{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of scheduled jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_success",
			Help: "Successful scheduled job executions.",
		}, []string{"job"}),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_failure",
			Help: "Failed scheduled job executions.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.duration, m.success, m.failure)
	return m
}

func (m *Jobs) ObserveDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func (m *Jobs) IncSuccess(job string) {
	if m == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Jobs) IncFailure(job string) {
	if m == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
