package search

import "fmt"

// sweep visits a fixed list of values in order, one decisive outcome each.
type sweep struct{}

func (sweep) Kind() Kind { return KindSweep }

func (sweep) Init(cfg Config) (State, error) {
	if len(cfg.Values) == 0 {
		return State{}, fmt.Errorf("%w: sweep needs at least one value", ErrInvalidConfig)
	}
	values := make([]float64, len(cfg.Values))
	copy(values, cfg.Values)
	return State{
		Kind:      KindSweep,
		Favorable: cfg.Favorable,
		Values:    values,
		Current:   values[0],
		MaxSteps:  cfg.MaxSteps,
	}, nil
}

func (sweep) Next(st State, obs Observation) (State, error) {
	if obs.Favorable() {
		st.recordBest(st.Current)
	}
	st.Steps++
	st.Index++
	if st.Index >= len(st.Values) {
		st.finish("sweep complete")
		return st, nil
	}
	if st.budgetSpent() {
		return st, nil
	}
	st.Current = st.Values[st.Index]
	return st, nil
}
