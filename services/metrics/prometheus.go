// Package metricsvc exposes the app metrics to prometheus.
package metricsvc

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/eduro/core"
)

type prometheusMetrics struct {
	attemptsFinalized *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
}

var _ core.Metrics = (*prometheusMetrics)(nil) // interface compliance check

// NewPrometheusMetrics registers the app collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer, conf *core.Config) core.Metrics {
	labels := prometheus.Labels{"env": conf.Env}
	m := &prometheusMetrics{
		attemptsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "eduro",
			Subsystem:   "quiz",
			Name:        "attempts_finalized_total",
			Help:        "Quiz attempts closed, by submit reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "eduro",
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Cache lookups, by cache & outcome.",
			ConstLabels: labels,
		}, []string{"cache", "hit"}),
	}
	reg.MustRegister(m.attemptsFinalized, m.cacheLookups)
	return m
}

func (m *prometheusMetrics) AttemptFinalized(reason string) {
	m.attemptsFinalized.WithLabelValues(reason).Inc()
}

func (m *prometheusMetrics) CacheLookup(cache string, hit bool) {
	m.cacheLookups.WithLabelValues(cache, strconv.FormatBool(hit)).Inc()
}
