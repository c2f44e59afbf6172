package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveExecution("ok", 2*time.Millisecond)
	m.ObserveExecution("ok", time.Millisecond)
	m.ObserveExecution("error", time.Millisecond)
	m.SetPool(4, 1)
	m.ModuleLoaded("script", "resolved")
	m.ParseCacheLookup(true)
	m.ParseCacheLookup(false)
	m.ParseCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ContextsAllocated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextsInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModuleLoads.WithLabelValues("script", "resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ParseCache.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExecutionDuration))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveExecution("ok", time.Second)
		m.SetPool(1, 1)
		m.ModuleLoaded("native", "resolved")
		m.ParseCacheLookup(true)
	})
}
