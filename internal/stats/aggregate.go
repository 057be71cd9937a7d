/*
PURPOSE:
  Reduces a measurement window into per-metric summary statistics:
  count, mean, standard deviation, min/max, quantiles and an OLS trend.

REQUIREMENTS:
  User-specified:
  - Pure and deterministic: same window, same stats, regardless of when it runs.
  - One documented quantile rule for the whole system.
  - Fewer than 3 distinct timestamps yields the insufficient-data trend.

  Implementation-discovered:
  - gonum/stat.Quantile panics on unsorted input, so values are sorted on a copy.
  - Map iteration order is random; metric keys are sorted before output.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Classify phase)
  - Uses: internal/model, gonum.org/v1/gonum/stat

ERROR HANDLING:
  - None. An empty window reduces to stats with no metrics.

IMPLEMENTATION RULES:
  - Quantiles use the nearest-rank rule (stat.Empirical).
  - Trend x-axis is seconds since the window start, never wall-clock now.

USAGE:
  agg := stats.NewAggregator([]float64{0.5, 0.95})
  s := agg.Reduce(window)

SELF-HEALING INSTRUCTIONS:
  - Changing QuantileRule breaks comparability with older reports. Don't.

RELATED FILES:
  - internal/model/types.go
  - internal/convergence/detector.go

MAINTENANCE:
  - Add new summary fields to model.MetricStats first.
*/

package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// QuantileRule is the interpolation rule used for every quantile in reports.
// Empirical is nearest-rank: the smallest value whose cumulative share is >= p.
const QuantileRule = stat.Empirical

// MinTrendPoints is the number of distinct timestamps needed for a slope.
const MinTrendPoints = 3

// DefaultQuantiles are always computed, in addition to any configured ones.
var DefaultQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Aggregator reduces windows with a fixed quantile set.
type Aggregator struct {
	quantiles []float64
}

// NewAggregator merges extra quantiles into DefaultQuantiles. Values outside
// (0, 1] are ignored; config validation rejects them earlier.
func NewAggregator(extra []float64) *Aggregator {
	set := make(map[float64]struct{}, len(DefaultQuantiles)+len(extra))
	for _, p := range DefaultQuantiles {
		set[p] = struct{}{}
	}
	for _, p := range extra {
		if p > 0 && p <= 1 {
			set[p] = struct{}{}
		}
	}
	qs := make([]float64, 0, len(set))
	for p := range set {
		qs = append(qs, p)
	}
	sort.Float64s(qs)
	return &Aggregator{quantiles: qs}
}

// Quantiles returns the sorted quantile set.
func (a *Aggregator) Quantiles() []float64 {
	out := make([]float64, len(a.quantiles))
	copy(out, a.quantiles)
	return out
}

type series struct {
	xs []float64
	ys []float64
}

// Reduce summarizes the window.
func (a *Aggregator) Reduce(w *model.MeasurementWindow) model.AggregateStats {
	out := model.AggregateStats{
		WindowStart: w.Start,
		WindowEnd:   w.End,
		SampleCount: len(w.Samples),
		FlagCount:   len(w.Flags),
	}

	byKey := make(map[string]*series)
	for _, s := range w.Samples {
		k := s.Key()
		sr, ok := byKey[k]
		if !ok {
			sr = &series{}
			byKey[k] = sr
		}
		sr.xs = append(sr.xs, s.Timestamp.Sub(w.Start).Seconds())
		sr.ys = append(sr.ys, s.Value)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out.Metrics = make([]model.MetricStats, 0, len(keys))
	for _, k := range keys {
		out.Metrics = append(out.Metrics, a.summarize(k, byKey[k]))
	}
	return out
}

func (a *Aggregator) summarize(key string, sr *series) model.MetricStats {
	ms := model.MetricStats{Key: key, Count: len(sr.ys)}

	sorted := make([]float64, len(sr.ys))
	copy(sorted, sr.ys)
	sort.Float64s(sorted)

	if len(sorted) >= 2 {
		ms.Mean, ms.StdDev = stat.MeanStdDev(sr.ys, nil)
	} else {
		ms.Mean = sorted[0]
	}
	ms.Min = sorted[0]
	ms.Max = sorted[len(sorted)-1]

	ms.Quantiles = make([]model.QuantileValue, 0, len(a.quantiles))
	for _, p := range a.quantiles {
		ms.Quantiles = append(ms.Quantiles, model.QuantileValue{
			P:     p,
			Value: Quantile(p, sorted),
		})
	}
	ms.Trend = Slope(sr.xs, sr.ys)
	return ms
}

// Quantile applies QuantileRule to already sorted values.
func Quantile(p float64, sorted []float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	return stat.Quantile(p, QuantileRule, sorted, nil)
}

// Slope fits y = a + b*x by ordinary least squares and returns b.
// Fewer than MinTrendPoints distinct x values give the insufficient-data trend.
func Slope(xs, ys []float64) model.Trend {
	if distinct(xs) < MinTrendPoints {
		return model.Trend{Status: model.TrendInsufficientData}
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return model.Trend{Status: model.TrendOK, Slope: beta}
}

func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
		if len(seen) >= MinTrendPoints {
			break
		}
	}
	return len(seen)
}
