package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/resctl-bench/internal/model"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func window(metric string, values ...float64) *model.MeasurementWindow {
	w := &model.MeasurementWindow{Start: t0, End: t0.Add(time.Duration(len(values)) * time.Second)}
	for i, v := range values {
		w.Samples = append(w.Samples, model.MetricSample{
			Source:    model.SourceWorkload,
			Metric:    metric,
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Value:     v,
		})
	}
	return w
}

func TestReduceDeterministic(t *testing.T) {
	w := window("latency", 0.013, 0.011, 0.019, 0.012, 0.017, 0.015, 0.010, 0.021)
	w.Samples = append(w.Samples, model.MetricSample{
		Source: model.SourceAgent, Metric: "mem_pressure", Timestamp: t0.Add(8 * time.Second), Value: 0.2,
	})
	w.End = t0.Add(9 * time.Second)

	agg := NewAggregator([]float64{0.75})
	first := agg.Reduce(w)
	second := agg.Reduce(w)

	assert.Equal(t, first, second)
	require.Len(t, first.Metrics, 2)
	assert.Equal(t, "agent.mem_pressure", first.Metrics[0].Key)
	assert.Equal(t, "workload.latency", first.Metrics[1].Key)
}

func TestReduceSummary(t *testing.T) {
	w := window("latency", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	s := NewAggregator(nil).Reduce(w)

	m, ok := s.Metric("workload.latency")
	require.True(t, ok)
	assert.Equal(t, 10, m.Count)
	assert.InDelta(t, 5.5, m.Mean, 1e-12)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 10.0, m.Max)

	p50, ok := m.Quantile(0.5)
	require.True(t, ok)
	assert.Equal(t, 5.0, p50)
	p95, _ := m.Quantile(0.95)
	assert.Equal(t, 10.0, p95)
	p90, _ := m.Quantile(0.9)
	assert.Equal(t, 9.0, p90)

	require.True(t, m.Trend.Valid())
	assert.InDelta(t, 1.0, m.Trend.Slope, 1e-9)
}

func TestQuantileNearestRank(t *testing.T) {
	tests := []struct {
		name   string
		p      float64
		sorted []float64
		want   float64
	}{
		{"single", 0.99, []float64{7}, 7},
		{"median odd", 0.5, []float64{1, 2, 3}, 2},
		{"median even", 0.5, []float64{1, 2, 3, 4}, 2},
		{"upper tail", 0.99, []float64{1, 2, 3, 4}, 4},
		{"max", 1, []float64{1, 5, 9}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantile(tt.p, tt.sorted))
		})
	}
	assert.True(t, Quantile(0.5, nil) != Quantile(0.5, nil), "empty input is NaN")
}

func TestSlopeInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		xs   []float64
		ys   []float64
	}{
		{"empty", nil, nil},
		{"one point", []float64{0}, []float64{1}},
		{"two points", []float64{0, 1}, []float64{1, 5}},
		{"repeated timestamps", []float64{0, 0, 1, 1, 1}, []float64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Slope(tt.xs, tt.ys)
			assert.Equal(t, model.TrendInsufficientData, tr.Status)
			assert.False(t, tr.Valid())
			assert.Zero(t, tr.Slope)
		})
	}
}

func TestSlopeFlatSeries(t *testing.T) {
	tr := Slope([]float64{0, 1, 2, 3}, []float64{4, 4, 4, 4})
	require.True(t, tr.Valid())
	assert.InDelta(t, 0, tr.Slope, 1e-12)
}

func TestReduceSingleSample(t *testing.T) {
	s := NewAggregator(nil).Reduce(window("latency", 0.5))
	m, ok := s.Metric("workload.latency")
	require.True(t, ok)
	assert.Equal(t, 0.5, m.Mean)
	assert.Zero(t, m.StdDev)
	assert.Equal(t, model.TrendInsufficientData, m.Trend.Status)
}

func TestNewAggregatorQuantileSet(t *testing.T) {
	agg := NewAggregator([]float64{0.95, 0.75, 0, 1.5})
	assert.Equal(t, []float64{0.5, 0.75, 0.9, 0.95, 0.99}, agg.Quantiles())
}
