package search

import (
	"fmt"
	"math"
)

// epsilon absorbs float error when comparing widths against the resolution.
const epsilon = 1e-9

// bisection keeps [Low, High] with the safe side assumed good and the
// favorable side assumed bad, and probes on a resolution grid anchored at
// the safe bound. Each step leaves at most ceil(n/2) grid cells of the n
// remaining, so it finishes within ceil(log2((High-Low)/Resolution)) steps.
type bisection struct{}

func (bisection) Kind() Kind { return KindBisection }

func (bisection) Init(cfg Config) (State, error) {
	if err := validBounds(cfg.Low, cfg.High, cfg.Resolution); err != nil {
		return State{}, err
	}
	if cfg.High-cfg.Low <= cfg.Resolution*(1+epsilon) {
		return State{}, fmt.Errorf("%w: range %v..%v is not wider than resolution %v",
			ErrInvalidConfig, cfg.Low, cfg.High, cfg.Resolution)
	}
	st := State{
		Kind:       KindBisection,
		Favorable:  cfg.Favorable,
		Low:        cfg.Low,
		High:       cfg.High,
		Resolution: cfg.Resolution,
		MaxSteps:   cfg.MaxSteps,
	}
	st.Current = probe(st)
	return st, nil
}

func (bisection) Next(st State, obs Observation) (State, error) {
	x := st.Current
	pass := obs.Favorable()
	if pass {
		st.recordBest(x)
	}
	// Passing moves the safe bound up to x; failing moves the favorable bound down to x.
	switch {
	case st.Favorable == Up && pass, st.Favorable == Down && !pass:
		st.Low = x
	default:
		st.High = x
	}
	st.Steps++

	if cells(st) <= 1 {
		st.finish("bounds collapsed below resolution")
		return st, nil
	}
	if st.budgetSpent() {
		return st, nil
	}
	st.Current = probe(st)
	return st, nil
}

// cells is the number of resolution-sized grid cells left in [Low, High].
func cells(st State) int {
	return int(math.Ceil((st.High-st.Low)/st.Resolution - epsilon))
}

// probe picks the grid point half way (rounded toward the safe side).
func probe(st State) float64 {
	k := float64(cells(st) / 2)
	if st.Favorable == Down {
		return st.High - k*st.Resolution
	}
	return st.Low + k*st.Resolution
}
