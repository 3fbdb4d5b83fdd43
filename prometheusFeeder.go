package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	fetchHit         = "hit"
	fetchFailoverHit = "failover_hit"
	fetchMiss        = "miss"

	dispatchOK      = "ok"
	dispatchFailed  = "failed"
	dispatchTimeout = "timeout"
)

type orchestratorMetrics struct {
	fetches          *prometheus.CounterVec
	dispatchResults  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

func newOrchestratorMetrics(registerer prometheus.Registerer, environment string) *orchestratorMetrics {
	m := &orchestratorMetrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "classification",
				Subsystem: "cache",
				Name:      "fetches_total",
				Help:      "Cache lookups by classification kind and outcome",
			},
			[]string{"kind", "outcome"}),
		dispatchResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "classification",
				Subsystem: "dispatch",
				Name:      "results_total",
				Help:      "Classifier calls by service and outcome",
			},
			[]string{"service", "outcome"}),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "classification",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent waiting for all classifiers of one dispatch",
				Buckets:   prometheus.DefBuckets,
			}),
	}

	registerer.MustRegister(m.fetches, m.dispatchResults, m.dispatchDuration, newPilotLight(environment))
	return m
}

func newPilotLight(environment string) prometheus.Gauge {
	pilotLight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "classification",
			Subsystem:   "orchestrator",
			Name:        "pilotlight",
			Help:        "Pilot light for the classification orchestrator",
			ConstLabels: prometheus.Labels{"environment": environment},
		})
	pilotLight.Set(1)
	return pilotLight
}

func (m *orchestratorMetrics) observeFetch(kind string, outcome string) {
	if m == nil {
		return
	}
	m.fetches.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
}

func (m *orchestratorMetrics) observeDispatch(results map[string]result, elapsed time.Duration) {
	if m == nil {
		return
	}
	for service, r := range results {
		m.dispatchResults.With(prometheus.Labels{"service": service, "outcome": dispatchOutcome(r)}).Inc()
	}
	m.dispatchDuration.Observe(elapsed.Seconds())
}

func dispatchOutcome(r result) string {
	switch {
	case r.ok():
		return dispatchOK
	case errors.Is(r.err, errDispatchTimeout), errors.Is(r.err, context.DeadlineExceeded):
		return dispatchTimeout
	default:
		return dispatchFailed
	}
}
