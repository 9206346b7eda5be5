package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Prediction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NoError(t, c.Register())

	c.PredictionStarted()
	c.PredictionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inFlight))

	c.PredictionFinished("success", 150*time.Millisecond)
	c.PredictionFinished("timed_out", 30*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("timed_out")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
}

func TestCollector_ApplicationSubmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NoError(t, c.Register())

	c.ApplicationSubmitted("scored")
	c.ApplicationSubmitted("omitted")
	c.ApplicationSubmitted("omitted")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.submitted.WithLabelValues("scored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.submitted.WithLabelValues("omitted")))
}

func TestCollector_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NoError(t, c.Register())
	assert.NoError(t, c.Register())

	other := NewCollector(reg)
	require.NoError(t, other.Register())

	other.PredictionStarted()
	other.PredictionFinished("success", time.Second)
	other.ApplicationSubmitted("scored")
	c.PredictionStarted()
	c.PredictionFinished("success", time.Second)

	n, err := testutil.GatherAndCount(reg, "loanscore_prediction_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.calls.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submitted.WithLabelValues("scored")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
}
