/*
PURPOSE:
  Chooses the next control-knob value after each decisive round.
  A closed set of strategies (bisection, sweep, adaptive) shares one
  resumable contract: (State, Observation) -> State.

REQUIREMENTS:
  User-specified:
  - Resumable: the next state depends only on the persisted State and the
    latest observation. No package globals, no hidden counters.
  - Terminal when bounds collapse below resolution or the step budget is
    exhausted.

  Implementation-discovered:
  - "Favorable" means Converged with headroom against the scenario target.
    Everything else (Diverged, Inconclusive, over target) is unfavorable.
  - State is a plain struct so it round-trips through JSON checkpoints.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Persisted by: internal/checkpoint
  - Uses: internal/model

ERROR HANDLING:
  - Init returns ErrInvalidConfig wrapped with the failing field.
  - Next on a finished state returns ErrDone.

IMPLEMENTATION RULES:
  - Strategies never mutate their input; Next returns a new State.

USAGE:
  st, err := search.Init(cfg)
  st, err = search.Next(st, search.Observation{Verdict: v, Headroom: ok})

SELF-HEALING INSTRUCTIONS:
  - Adding a strategy: add a Kind, implement Strategy, register in For().

RELATED FILES:
  - internal/search/bisection.go
  - internal/search/sweep.go
  - internal/search/adaptive.go

MAINTENANCE:
  - Keep State field names stable; checkpoints depend on them.
*/

package search

import (
	"errors"
	"fmt"
	"math"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// Kind names a search strategy.
type Kind string

const (
	KindBisection Kind = "bisection"
	KindSweep     Kind = "sweep"
	KindAdaptive  Kind = "adaptive"
)

// Direction is the favorable direction of the knob.
type Direction string

const (
	// Up means larger knob values are better (e.g. more load sustained).
	Up Direction = "up"
	// Down means smaller knob values are better (e.g. less memory granted).
	Down Direction = "down"
)

// DefaultMaxSteps bounds every strategy.
const DefaultMaxSteps = 64

var (
	// ErrInvalidConfig is wrapped by Init errors.
	ErrInvalidConfig = errors.New("invalid search configuration")
	// ErrDone is returned when Next is called on a finished state.
	ErrDone = errors.New("search already complete")
	// ErrUnknownStrategy is returned for an unrecognized Kind.
	ErrUnknownStrategy = errors.New("unknown search strategy")
)

// Config seeds a search.
type Config struct {
	Strategy    Kind
	Low         float64
	High        float64
	Resolution  float64
	Favorable   Direction
	Values      []float64
	Seed        float64
	InitialStep float64
	MaxSteps    int
}

// State is the complete, serializable search state.
type State struct {
	Kind       Kind      `json:"kind"`
	Favorable  Direction `json:"favorable"`
	Current    float64   `json:"current"`
	Low        float64   `json:"low"`
	High       float64   `json:"high"`
	Resolution float64   `json:"resolution"`

	// sweep
	Values []float64 `json:"values,omitempty"`
	Index  int       `json:"index"`

	// adaptive
	Step      float64 `json:"step,omitempty"`
	Heading   int     `json:"heading,omitempty"`
	Bracketed bool    `json:"bracketed,omitempty"`

	Steps    int     `json:"steps"`
	MaxSteps int     `json:"max_steps"`
	Best     float64 `json:"best"`
	HasBest  bool    `json:"has_best"`
	Done     bool    `json:"done"`
	Reason   string  `json:"reason,omitempty"`
}

// Observation is what the orchestrator learned at State.Current.
type Observation struct {
	Verdict  model.Verdict
	Headroom bool
}

// Favorable reports a converged round that met the target.
func (o Observation) Favorable() bool {
	return o.Verdict == model.VerdictConverged && o.Headroom
}

// Strategy is implemented by each search algorithm.
type Strategy interface {
	Kind() Kind
	Init(cfg Config) (State, error)
	Next(st State, obs Observation) (State, error)
}

// For returns the strategy implementation for a kind.
func For(kind Kind) (Strategy, error) {
	switch kind {
	case KindBisection:
		return bisection{}, nil
	case KindSweep:
		return sweep{}, nil
	case KindAdaptive:
		return adaptive{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
}

// Init validates cfg and returns the first state.
func Init(cfg Config) (State, error) {
	s, err := For(cfg.Strategy)
	if err != nil {
		return State{}, err
	}
	if cfg.Favorable == "" {
		cfg.Favorable = Up
	}
	if cfg.Favorable != Up && cfg.Favorable != Down {
		return State{}, fmt.Errorf("%w: favorable direction %q", ErrInvalidConfig, cfg.Favorable)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return s.Init(cfg)
}

// Next dispatches on st.Kind.
func Next(st State, obs Observation) (State, error) {
	if st.Done {
		return st, ErrDone
	}
	s, err := For(st.Kind)
	if err != nil {
		return st, err
	}
	return s.Next(st, obs)
}

// recordBest keeps the most favorable passing value.
func (st *State) recordBest(x float64) {
	if !st.HasBest || st.better(x, st.Best) {
		st.Best = x
		st.HasBest = true
	}
}

func (st *State) better(a, b float64) bool {
	if st.Favorable == Down {
		return a < b
	}
	return a > b
}

func (st *State) finish(reason string) {
	st.Done = true
	st.Reason = reason
}

// budgetSpent marks the state done when the step budget is used up.
func (st *State) budgetSpent() bool {
	if st.MaxSteps > 0 && st.Steps >= st.MaxSteps {
		st.finish("step budget exhausted")
		return true
	}
	return false
}

func validBounds(low, high, resolution float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidConfig)
	}
	if !(low < high) {
		return fmt.Errorf("%w: low %v must be below high %v", ErrInvalidConfig, low, high)
	}
	if !(resolution > 0) {
		return fmt.Errorf("%w: resolution must be positive", ErrInvalidConfig)
	}
	return nil
}
