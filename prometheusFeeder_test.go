package main

import (
	"context"
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ENV = "foobar"

func TestNewOrchestratorMetrics(t *testing.T) {
	registry := prom.NewRegistry()
	m := newOrchestratorMetrics(registry, ENV)
	assert.NotNil(t, m)

	families, err := registry.Gather()
	require.NoError(t, err)

	var pilotLightFound bool
	for _, family := range families {
		if family.GetName() != "classification_orchestrator_pilotlight" {
			continue
		}
		pilotLightFound = true
		require.Len(t, family.GetMetric(), 1)
		assert.Equal(t, float64(1), family.GetMetric()[0].GetGauge().GetValue())
		require.Len(t, family.GetMetric()[0].GetLabel(), 1)
		assert.Equal(t, ENV, family.GetMetric()[0].GetLabel()[0].GetValue())
	}
	assert.True(t, pilotLightFound, "pilot light should be lit")
}

func TestNewOrchestratorMetricsRegistersOnce(t *testing.T) {
	registry := prom.NewRegistry()
	newOrchestratorMetrics(registry, ENV)

	assert.Panics(t, func() { newOrchestratorMetrics(registry, ENV) })
}

func TestObserveFetch(t *testing.T) {
	m := newOrchestratorMetrics(prom.NewRegistry(), ENV)

	m.observeFetch("intent", fetchHit)
	m.observeFetch("intent", fetchHit)
	m.observeFetch("intent", fetchMiss)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.fetches.WithLabelValues("intent", fetchHit)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fetches.WithLabelValues("intent", fetchMiss)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.fetches.WithLabelValues("intent", fetchFailoverHit)))
}

func TestObserveDispatch(t *testing.T) {
	m := newOrchestratorMetrics(prom.NewRegistry(), ENV)

	m.observeDispatch(map[string]result{
		"intent-sidecar-service":                   {prediction: []byte(`"greeting"`)},
		"sentiment-sidecar-service":                {err: errNonSuccessStatus},
		"named-entity-recognition-sidecar-service": {err: errDispatchTimeout},
	}, 20*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchResults.WithLabelValues("intent-sidecar-service", dispatchOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchResults.WithLabelValues("sentiment-sidecar-service", dispatchFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchResults.WithLabelValues("named-entity-recognition-sidecar-service", dispatchTimeout)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.dispatchDuration))
}

func TestObserveWithoutMetrics(t *testing.T) {
	var m *orchestratorMetrics

	assert.NotPanics(t, func() {
		m.observeFetch("intent", fetchHit)
		m.observeDispatch(map[string]result{"intent-sidecar-service": {}}, time.Millisecond)
	})
}

func TestDispatchOutcome(t *testing.T) {
	assert.Equal(t, dispatchOK, dispatchOutcome(result{prediction: []byte(`0.7`)}))
	assert.Equal(t, dispatchTimeout, dispatchOutcome(result{err: errDispatchTimeout}))
	assert.Equal(t, dispatchTimeout, dispatchOutcome(result{err: context.DeadlineExceeded}))
	assert.Equal(t, dispatchFailed, dispatchOutcome(result{err: errors.New("connection refused")}))
}
