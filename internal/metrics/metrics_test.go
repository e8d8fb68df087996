package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("x")
		m.SessionOutcome("x", "failure", "timed_out")
		m.Charge("x", "ok")
		m.ChargedUndelivered("x")
		m.JobFinished("replicate", "succeeded", time.Second, 3)
		m.Payment("yookassa", "credited")
		m.ProviderRequest("fal", "submit", nil)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChargedUndelivered("veo-3")
	m.ChargedUndelivered("veo-3")
	m.ProviderRequest("fal", "poll", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chargedUndelivered.WithLabelValues("veo-3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("fal", "poll", "error")))
}
