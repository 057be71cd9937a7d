package config

import (
	"fmt"

	"github.com/daryltucker/resctl-bench/internal/convergence"
	"github.com/daryltucker/resctl-bench/internal/search"
)

// ApplyDefaults fills unset scenario fields.
func (s *Scenario) ApplyDefaults() {
	if s.Knob.Target == "" {
		s.Knob.Target = "workload"
	}
	if s.Warmup == 0 {
		s.Warmup = DefaultWarmup
	}

	m := &s.Measure
	if m.Duration == 0 {
		m.Duration = DefaultDuration
	}
	if m.Cadence == 0 {
		m.Cadence = DefaultCadence
	}
	if m.Retries == nil {
		n := DefaultRetries
		m.Retries = &n
	}
	if m.RetryBackoff == 0 {
		m.RetryBackoff = DefaultRetryBackoff
	}
	if m.CallTimeout == 0 {
		m.CallTimeout = DefaultCallTimeout
	}

	c := &s.Convergence
	if c.KeyQuantile == 0 {
		c.KeyQuantile = DefaultKeyQuantile
	}
	if c.Window == 0 {
		c.Window = convergence.DefaultWindow
	}
	if c.StabilityTolerance == 0 {
		c.StabilityTolerance = convergence.DefaultStabilityTolerance
	}
	if c.DivergenceSlope == 0 {
		c.DivergenceSlope = convergence.DefaultDivergenceSlope
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = max(convergence.DefaultMaxRounds, c.Window)
	}

	if s.Search.Favorable == "" {
		s.Search.Favorable = string(search.Up)
	}
}

// RetryCount is the number of times a failed poll is retried.
// An explicit 0 disables retries; unset means DefaultRetries.
func (m Measure) RetryCount() int {
	if m.Retries == nil {
		return DefaultRetries
	}
	return *m.Retries
}

// Tolerances converts the convergence block for the detector.
func (s Scenario) Tolerances() convergence.Tolerances {
	c := s.Convergence
	return convergence.Tolerances{
		KeyMetric:          c.KeyMetric,
		KeyQuantile:        c.KeyQuantile,
		Window:             c.Window,
		StabilityTolerance: c.StabilityTolerance,
		DivergenceSlope:    c.DivergenceSlope,
		DivergenceRounds:   c.DivergenceRounds,
		MaxRounds:          c.MaxRounds,
	}
}

// SearchConfig converts the search block for the search driver.
func (s Scenario) SearchConfig() search.Config {
	return search.Config{
		Strategy:    search.Kind(s.Search.Strategy),
		Low:         s.Search.Low,
		High:        s.Search.High,
		Resolution:  s.Search.Resolution,
		Favorable:   search.Direction(s.Search.Favorable),
		Values:      s.Search.Values,
		Seed:        s.Search.Seed,
		InitialStep: s.Search.InitialStep,
		MaxSteps:    s.Search.MaxSteps,
	}
}

// Headroom reports whether a key statistic leaves room under the target.
func (t Target) Headroom(v float64) bool {
	return t.Max == nil || v <= *t.Max
}

func (s Scenario) crossProblems() []string {
	var out []string
	prefix := fmt.Sprintf("scenario %q", s.Name)

	if m := s.Measure; m.Cadence > 0 && m.Cadence*4 > m.Duration {
		out = append(out, fmt.Sprintf("%s: cadence %v exceeds duration/4 (%v)", prefix, m.Cadence, m.Duration/4))
	}
	if err := s.Tolerances().Validate(); err != nil {
		out = append(out, fmt.Sprintf("%s: %v", prefix, err))
	}
	if _, err := search.Init(s.SearchConfig()); err != nil {
		out = append(out, fmt.Sprintf("%s: %v", prefix, err))
	}
	for _, params := range []map[string]any{s.WorkloadParams, s.AgentParams} {
		if _, ok := params[s.Knob.Name]; ok {
			out = append(out, fmt.Sprintf("%s: knob %q is also set in fixed params", prefix, s.Knob.Name))
		}
	}
	return out
}
