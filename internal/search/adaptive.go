package search

import (
	"fmt"
	"math"
)

// adaptive walks from a seed toward the favorable direction, doubling the
// step while results keep passing. The first failure brackets the boundary;
// from then on every reversal halves the step, and the search stops once a
// reversal would move by less than the resolution.
type adaptive struct{}

func (adaptive) Kind() Kind { return KindAdaptive }

func (adaptive) Init(cfg Config) (State, error) {
	if err := validBounds(cfg.Low, cfg.High, cfg.Resolution); err != nil {
		return State{}, err
	}
	if cfg.Seed < cfg.Low || cfg.Seed > cfg.High {
		return State{}, fmt.Errorf("%w: seed %v outside %v..%v", ErrInvalidConfig, cfg.Seed, cfg.Low, cfg.High)
	}
	if !(cfg.InitialStep > 0) {
		return State{}, fmt.Errorf("%w: initial step must be positive", ErrInvalidConfig)
	}
	return State{
		Kind:       KindAdaptive,
		Favorable:  cfg.Favorable,
		Current:    cfg.Seed,
		Low:        cfg.Low,
		High:       cfg.High,
		Resolution: cfg.Resolution,
		Step:       cfg.InitialStep,
		Heading:    1,
		MaxSteps:   cfg.MaxSteps,
	}, nil
}

func (adaptive) Next(st State, obs Observation) (State, error) {
	x := st.Current
	pass := obs.Favorable()
	if pass {
		st.recordBest(x)
	}

	reversed := false
	switch {
	case pass && st.Heading < 0:
		st.Heading, st.Step, st.Bracketed, reversed = 1, st.Step/2, true, true
	case pass && !st.Bracketed:
		st.Step *= 2
	case !pass && st.Heading > 0:
		st.Heading, st.Step, st.Bracketed, reversed = -1, st.Step/2, true, true
	}
	st.Steps++

	if reversed && st.Step < st.Resolution {
		st.finish("step oscillation below resolution")
		return st, nil
	}

	sign := 1.0
	if st.Favorable == Down {
		sign = -1
	}
	next := math.Min(st.High, math.Max(st.Low, x+sign*float64(st.Heading)*st.Step))
	if math.Abs(next-x) < st.Resolution*epsilon {
		st.finish("search bound reached")
		return st, nil
	}
	if st.budgetSpent() {
		return st, nil
	}
	st.Current = next
	return st, nil
}
