// Package metrics holds the Prometheus collectors of the bot. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediagen"

type Metrics struct {
	sessionsStarted    *prometheus.CounterVec
	sessionOutcomes    *prometheus.CounterVec
	charges            *prometheus.CounterVec
	chargedUndelivered *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	pollAttempts       *prometheus.HistogramVec
	payments           *prometheus.CounterVec
	providerRequests   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Generation sessions started per model.",
		}, []string{"model"}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Terminal session outcomes per model and reason.",
		}, []string{"model", "outcome", "reason"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Authorization attempts per model and result.",
		}, []string{"model", "result"}),
		chargedUndelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charged_undelivered_total",
			Help:      "Charges taken for jobs that never started.",
		}, []string{"model"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal provider status.",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 900},
		}, []string{"provider", "state"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status polls needed per job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"provider"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment notifications per source and result.",
		}, []string{"source", "result"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Outbound provider API calls per provider, operation and result.",
		}, []string{"provider", "op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsStarted,
			m.sessionOutcomes,
			m.charges,
			m.chargedUndelivered,
			m.jobDuration,
			m.pollAttempts,
			m.payments,
			m.providerRequests,
		)
	}
	return m
}

func (m *Metrics) SessionStarted(model string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(model).Inc()
}

func (m *Metrics) SessionOutcome(model, outcome, reason string) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(model, outcome, reason).Inc()
}

func (m *Metrics) Charge(model, result string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(model, result).Inc()
}

func (m *Metrics) ChargedUndelivered(model string) {
	if m == nil {
		return
	}
	m.chargedUndelivered.WithLabelValues(model).Inc()
}

func (m *Metrics) JobFinished(provider, state string, elapsed time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(provider, state).Observe(elapsed.Seconds())
	m.pollAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

func (m *Metrics) Payment(source, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ProviderRequest(provider, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerRequests.WithLabelValues(provider, op, result).Inc()
}
