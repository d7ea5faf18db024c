// Package metrics exposes Prometheus instrumentation for the auth subsystem
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contactdesk"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RateLimitDecisions *prometheus.CounterVec
	OTPEvents          *prometheus.CounterVec
	SessionEvents      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by endpoint.",
		}, []string{"endpoint", "decision"}),
		OTPEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "events_total",
			Help:      "One-time passcode lifecycle events.",
		}, []string{"event"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Admin session lifecycle events.",
		}, []string{"event"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(m.RateLimitDecisions, m.OTPEvents, m.SessionEvents, m.RequestDuration)
	}
	return m
}

// RateLimitDecision counts one allow or deny
func (m *Metrics) RateLimitDecision(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.RateLimitDecisions.WithLabelValues(endpoint, decision).Inc()
}

// OTPEvent counts an OTP event such as "issued", "verified" or "failed"
func (m *Metrics) OTPEvent(event string) {
	if m == nil {
		return
	}
	m.OTPEvents.WithLabelValues(event).Inc()
}

// SessionEvent counts a session event such as "created" or "destroyed"
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

// ObserveRequest records the latency of one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
