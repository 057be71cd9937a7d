/*
PURPOSE:
  Classifies a parameter's round history as transient, converged, diverged
  or inconclusive (round budget exhausted).

REQUIREMENTS:
  User-specified:
  - Divergence is checked before stability. A noisy run that is also
    trending away is Diverged, never Transient. Do not reorder.
  - Converged when the key statistic's relative spread over the last N
    rounds is within tolerance.
  - Inconclusive when the round ceiling is reached without a decision.

  Implementation-discovered:
  - Slopes are compared relative to the key statistic's magnitude so one
    threshold works for latencies in ms and throughputs in rps.
  - A round whose key metric is missing counts as non-stable.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Classify phase)
  - Uses: internal/model

ERROR HANDLING:
  - Tolerances.Validate returns errors; Classify never fails.

IMPLEMENTATION RULES:
  - Classify is a pure function of (history, tolerances).

USAGE:
  v := convergence.Classify(history.Snapshot(), tol)

SELF-HEALING INSTRUCTIONS:
  - If verdicts look wrong, dump KeyValue per round before touching thresholds.

RELATED FILES:
  - internal/convergence/history.go
  - internal/stats/aggregate.go

MAINTENANCE:
  - Keep the check order in Classify documented in DESIGN.md.
*/

package convergence

import (
	"errors"
	"fmt"
	"math"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// Default tolerance values.
const (
	DefaultWindow             = 3
	DefaultStabilityTolerance = 0.05
	DefaultDivergenceSlope    = 0.10
	DefaultMaxRounds          = 8
)

// Tolerances parameterize Classify.
type Tolerances struct {
	// KeyMetric is the metric key compared across rounds, e.g. "workload.latency".
	KeyMetric string
	// KeyQuantile selects which quantile of KeyMetric is the key statistic.
	KeyQuantile float64
	// Window is how many trailing rounds must agree for Converged.
	Window int
	// StabilityTolerance is the maximum relative spread, (max-min)/|mean|.
	StabilityTolerance float64
	// DivergenceSlope is the relative slope per second, |slope|/|mean|, above
	// which a round counts as trending.
	DivergenceSlope float64
	// DivergenceRounds is how many consecutive trending rounds (same sign)
	// make a divergence. Defaults to Window.
	DivergenceRounds int
	// MaxRounds is the per-parameter round ceiling.
	MaxRounds int
}

// DefaultTolerances returns the defaults for the given key statistic.
func DefaultTolerances(metric string, quantile float64) Tolerances {
	return Tolerances{
		KeyMetric:          metric,
		KeyQuantile:        quantile,
		Window:             DefaultWindow,
		StabilityTolerance: DefaultStabilityTolerance,
		DivergenceSlope:    DefaultDivergenceSlope,
		DivergenceRounds:   DefaultWindow,
		MaxRounds:          DefaultMaxRounds,
	}
}

// ErrInvalidTolerances is wrapped by Validate errors.
var ErrInvalidTolerances = errors.New("invalid convergence tolerances")

// Validate checks the tolerances for internal consistency.
func (t Tolerances) Validate() error {
	switch {
	case t.KeyMetric == "":
		return fmt.Errorf("%w: key metric is required", ErrInvalidTolerances)
	case !(t.KeyQuantile > 0 && t.KeyQuantile <= 1):
		return fmt.Errorf("%w: key quantile %v not in (0, 1]", ErrInvalidTolerances, t.KeyQuantile)
	case t.Window < 1:
		return fmt.Errorf("%w: window must be at least 1", ErrInvalidTolerances)
	case t.StabilityTolerance < 0:
		return fmt.Errorf("%w: stability tolerance must be non-negative", ErrInvalidTolerances)
	case t.DivergenceSlope <= 0:
		return fmt.Errorf("%w: divergence slope must be positive", ErrInvalidTolerances)
	case t.divergenceRounds() < 1:
		return fmt.Errorf("%w: divergence rounds must be at least 1", ErrInvalidTolerances)
	case t.MaxRounds < t.Window:
		return fmt.Errorf("%w: max rounds %d below window %d", ErrInvalidTolerances, t.MaxRounds, t.Window)
	case t.divergenceRounds() > t.MaxRounds:
		return fmt.Errorf("%w: divergence rounds %d above max rounds %d", ErrInvalidTolerances, t.divergenceRounds(), t.MaxRounds)
	}
	return nil
}

func (t Tolerances) divergenceRounds() int {
	if t.DivergenceRounds == 0 {
		return t.Window
	}
	return t.DivergenceRounds
}

// Retained is the number of trailing rounds Classify ever looks at.
func (t Tolerances) Retained() int {
	n := t.Window
	if d := t.divergenceRounds(); d > n {
		n = d
	}
	return n
}

// KeyValue extracts the key statistic from one round's stats.
func (t Tolerances) KeyValue(s *model.AggregateStats) (float64, bool) {
	if s == nil {
		return 0, false
	}
	m, ok := s.Metric(t.KeyMetric)
	if !ok {
		return 0, false
	}
	return m.Quantile(t.KeyQuantile)
}

// Classify returns the verdict for the latest round.
//
// history is the trailing round history at the current parameter value,
// oldest first. rounds is the total number of rounds run at this value,
// which may exceed len(history) when the history buffer is bounded.
//
// Order: Diverged, then Converged, then the round ceiling, else Transient.
func Classify(history []model.AggregateStats, rounds int, t Tolerances) model.Verdict {
	if len(history) == 0 {
		if rounds >= t.MaxRounds {
			return model.VerdictInconclusive
		}
		return model.VerdictTransient
	}
	if diverging(history, t) {
		return model.VerdictDiverged
	}
	if stable(history, t) {
		return model.VerdictConverged
	}
	if rounds >= t.MaxRounds {
		return model.VerdictInconclusive
	}
	return model.VerdictTransient
}

// diverging reports a sustained same-sign trend over the trailing rounds.
func diverging(history []model.AggregateStats, t Tolerances) bool {
	n := t.divergenceRounds()
	if len(history) < n {
		return false
	}
	sign := 0.0
	for _, s := range history[len(history)-n:] {
		m, ok := s.Metric(t.KeyMetric)
		if !ok || !m.Trend.Valid() {
			return false
		}
		rel := relative(m.Trend.Slope, m.Mean)
		if math.Abs(rel) <= t.DivergenceSlope {
			return false
		}
		dir := math.Copysign(1, rel)
		if sign != 0 && dir != sign {
			return false
		}
		sign = dir
	}
	return true
}

// stable reports whether the key statistic agrees across the trailing window.
func stable(history []model.AggregateStats, t Tolerances) bool {
	if len(history) < t.Window {
		return false
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for i := len(history) - t.Window; i < len(history); i++ {
		v, ok := t.KeyValue(&history[i])
		if !ok || math.IsNaN(v) {
			return false
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	mean := sum / float64(t.Window)
	return relative(hi-lo, mean) <= t.StabilityTolerance
}

// relative scales x by |ref|; a zero reference leaves x absolute.
func relative(x, ref float64) float64 {
	if ref == 0 {
		return x
	}
	return x / math.Abs(ref)
}
