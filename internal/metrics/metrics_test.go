package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RateLimitDecision("admin_auth", true)
	m.RateLimitDecision("admin_auth", true)
	m.RateLimitDecision("admin_auth", false)
	m.OTPEvent("issued")
	m.SessionEvent("created")
	m.ObserveRequest(http.MethodPost, "/api/admin/auth", http.StatusOK, 25*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("admin_auth", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("admin_auth", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPEvents.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionEvents.WithLabelValues("created")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["contactdesk_http_request_duration_seconds"])
	assert.True(t, names["contactdesk_ratelimit_decisions_total"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RateLimitDecision("admin_auth", true)
		m.OTPEvent("issued")
		m.SessionEvent("created")
		m.ObserveRequest("GET", "/", 200, time.Second)
	})
}
