package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowValidate(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) MetricSample {
		return MetricSample{Source: SourceWorkload, Metric: "rps", Timestamp: t0.Add(time.Duration(ms) * time.Millisecond)}
	}

	w := MeasurementWindow{Start: t0, End: t0.Add(time.Second), MinDuration: time.Second,
		Samples: []MetricSample{at(0), at(250), at(250), at(500)}}
	require.NoError(t, w.Validate(), "equal timestamps are allowed")

	w.Samples[2] = at(100)
	assert.ErrorIs(t, w.Validate(), ErrInvalidWindow)

	short := MeasurementWindow{Start: t0, End: t0.Add(500 * time.Millisecond), MinDuration: time.Second}
	assert.ErrorIs(t, short.Validate(), ErrInvalidWindow)
}

func TestWindowHasFlag(t *testing.T) {
	w := MeasurementWindow{Flags: []DataQualityFlag{{Kind: FlagRetried, Source: SourceAgent}}}
	assert.True(t, w.HasFlag(FlagRetried))
	assert.False(t, w.HasFlag(FlagClockSkew))
}

func TestVerdictDecisive(t *testing.T) {
	assert.False(t, VerdictTransient.Decisive())
	assert.True(t, VerdictConverged.Decisive())
	assert.True(t, VerdictDiverged.Decisive())
	assert.True(t, VerdictInconclusive.Decisive())
	assert.False(t, VerdictCancelled.Decisive())
}

func TestStatsLookup(t *testing.T) {
	agg := AggregateStats{Metrics: []MetricStats{{
		Key:       MetricKey(SourceWorkload, "latency_p95"),
		Quantiles: []QuantileValue{{P: 0.5, Value: 0.004}, {P: 0.95, Value: 0.009}},
	}}}

	m, ok := agg.Metric("workload.latency_p95")
	require.True(t, ok)
	v, ok := m.Quantile(0.95)
	assert.True(t, ok)
	assert.Equal(t, 0.009, v)
	_, ok = m.Quantile(0.99)
	assert.False(t, ok)

	_, ok = agg.Metric("agent.latency_p95")
	assert.False(t, ok)
}
