package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/resctl-bench/internal/model"
)

const key = "workload.latency"

func round(p95, mean float64, trend model.Trend) model.AggregateStats {
	return model.AggregateStats{
		Metrics: []model.MetricStats{{
			Key:       key,
			Count:     10,
			Mean:      mean,
			Quantiles: []model.QuantileValue{{P: 0.5, Value: mean}, {P: 0.95, Value: p95}},
			Trend:     trend,
		}},
	}
}

func flat() model.Trend {
	return model.Trend{Status: model.TrendOK, Slope: 0}
}

func tolerances() Tolerances {
	t := DefaultTolerances(key, 0.95)
	t.Window = 2
	t.DivergenceRounds = 2
	t.MaxRounds = 4
	return t
}

func TestClassify(t *testing.T) {
	rising := model.Trend{Status: model.TrendOK, Slope: 0.002}
	falling := model.Trend{Status: model.TrendOK, Slope: -0.002}
	noTrend := model.Trend{Status: model.TrendInsufficientData}

	tests := []struct {
		name    string
		history []model.AggregateStats
		rounds  int
		want    model.Verdict
	}{
		{
			name:    "single round is transient",
			history: []model.AggregateStats{round(0.005, 0.004, flat())},
			rounds:  1,
			want:    model.VerdictTransient,
		},
		{
			name:    "stable window converges",
			history: []model.AggregateStats{round(0.0050, 0.004, flat()), round(0.0051, 0.004, flat())},
			rounds:  2,
			want:    model.VerdictConverged,
		},
		{
			name:    "noisy window stays transient",
			history: []model.AggregateStats{round(0.005, 0.004, flat()), round(0.009, 0.004, flat())},
			rounds:  2,
			want:    model.VerdictTransient,
		},
		{
			name:    "noisy window at ceiling is inconclusive",
			history: []model.AggregateStats{round(0.005, 0.004, flat()), round(0.009, 0.004, flat())},
			rounds:  4,
			want:    model.VerdictInconclusive,
		},
		{
			name:    "sustained rise diverges",
			history: []model.AggregateStats{round(0.005, 0.004, rising), round(0.009, 0.008, rising)},
			rounds:  2,
			want:    model.VerdictDiverged,
		},
		{
			name:    "sign change is not divergence",
			history: []model.AggregateStats{round(0.005, 0.004, rising), round(0.009, 0.008, falling)},
			rounds:  2,
			want:    model.VerdictTransient,
		},
		{
			name:    "trend must be sustained across rounds",
			history: []model.AggregateStats{round(0.005, 0.004, flat()), round(0.009, 0.008, rising)},
			rounds:  2,
			want:    model.VerdictTransient,
		},
		{
			name:    "insufficient data never diverges",
			history: []model.AggregateStats{round(0.005, 0.004, noTrend), round(0.005, 0.004, noTrend)},
			rounds:  2,
			want:    model.VerdictConverged,
		},
		{
			name:    "missing key metric is not stable",
			history: []model.AggregateStats{{}, {}},
			rounds:  2,
			want:    model.VerdictTransient,
		},
		{
			name:   "no stats at ceiling is inconclusive",
			rounds: 4,
			want:   model.VerdictInconclusive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.history, tt.rounds, tolerances()))
		})
	}
}

// A history that is both stable and trending must report Diverged.
func TestClassifyDivergenceBeatsStability(t *testing.T) {
	tol := tolerances()
	rising := model.Trend{Status: model.TrendOK, Slope: 0.01}
	history := []model.AggregateStats{
		round(0.050, 0.050, rising),
		round(0.050, 0.050, rising),
	}

	require.True(t, stable(history, tol), "history must satisfy the stability threshold")
	require.True(t, diverging(history, tol), "history must satisfy the divergence threshold")
	assert.Equal(t, model.VerdictDiverged, Classify(history, 2, tol))
}

func TestClassifyZeroMeanUsesAbsoluteSpread(t *testing.T) {
	tol := tolerances()
	tol.StabilityTolerance = 0.01
	history := []model.AggregateStats{round(-0.004, 0, flat()), round(0.004, 0, flat())}
	assert.Equal(t, model.VerdictConverged, Classify(history, 2, tol))
}

func TestTolerancesValidate(t *testing.T) {
	valid := tolerances()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Tolerances)
	}{
		{"no metric", func(t *Tolerances) { t.KeyMetric = "" }},
		{"quantile zero", func(t *Tolerances) { t.KeyQuantile = 0 }},
		{"quantile above one", func(t *Tolerances) { t.KeyQuantile = 1.5 }},
		{"empty window", func(t *Tolerances) { t.Window = 0 }},
		{"negative tolerance", func(t *Tolerances) { t.StabilityTolerance = -1 }},
		{"zero slope", func(t *Tolerances) { t.DivergenceSlope = 0 }},
		{"ceiling below window", func(t *Tolerances) { t.MaxRounds = 1 }},
		{"divergence unreachable", func(t *Tolerances) { t.DivergenceRounds = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tol := tolerances()
			tt.mutate(&tol)
			assert.ErrorIs(t, tol.Validate(), ErrInvalidTolerances)
		})
	}
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(2)
	for i := 1; i <= 3; i++ {
		h.Push(model.AggregateStats{SampleCount: i})
	}
	assert.Equal(t, 3, h.Rounds())
	assert.Equal(t, 2, h.Len())

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 2, snap[0].SampleCount)
	assert.Equal(t, 3, snap[1].SampleCount)

	h.Reset()
	assert.Zero(t, h.Rounds())
	assert.Empty(t, h.Snapshot())
	assert.Equal(t, 2, h.Capacity())
}
