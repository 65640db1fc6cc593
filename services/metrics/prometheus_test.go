package metricsvc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/eduro/core"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, core.NewTestConfig()).(*prometheusMetrics)

	m.AttemptFinalized("timeout")
	m.AttemptFinalized("timeout")
	m.AttemptFinalized("manual")
	m.CacheLookup("attendance", true)
	m.CacheLookup("attendance", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsFinalized.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsFinalized.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("attendance", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("attendance", "false")))
}
