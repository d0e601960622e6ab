package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRunRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("authz:cache_warmup").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("authz:cache_warmup").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("authz:cache_warmup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("authz:cache_warmup", "failure")))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("authz:cache_warmup")), 0.0)
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("authz:integrity_scan")))
}

func TestIntegrityAndWarmupCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetIntegrityFindings("dangling_builtin", 3)
	m.SetIntegrityFindings("dangling_builtin", 1)
	m.AddWarmed(4)
	m.AddWarmed(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.findings.WithLabelValues("dangling_builtin")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.warmed))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.SetIntegrityFindings("x", 1)
	m.AddWarmed(1)
}

func TestDefaultMetricsAreShared(t *testing.T) {
	assert.Same(t, NewMetrics(nil), NewMetrics(nil))
}
