/*
PURPOSE:
  Defines the core data structures shared by the benchmark engine.
  Samples, measurement windows, aggregate statistics, verdicts, rounds and
  the final benchmark result record.

REQUIREMENTS:
  User-specified:
  - Samples are immutable once recorded.
  - A window's samples are non-decreasing in timestamp.
  - The final result is a stable, versioned field set.

  Implementation-discovered:
  - Verdicts are serialized as strings so reports stay readable.
  - Vector readings (latency percentile buckets) are flattened into one
    scalar metric per bucket by the adapters.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/stats, internal/convergence,
    internal/search, internal/result, internal/output, internal/checkpoint
  - Shared across boundaries.

ERROR HANDLING:
  - Window.Validate reports invariant violations; everything else is plain data.

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Use time.Time and time.Duration for high precision.

USAGE:
  w := model.MeasurementWindow{Start: t0, End: t1, Samples: samples}

SELF-HEALING INSTRUCTIONS:
  - If new result fields are needed, add them and bump SchemaVersion when the
    meaning of an existing field changes.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update when adding new metrics to capture.
*/

package model

import (
	"errors"
	"fmt"
	"time"
)

// SchemaVersion identifies the BenchmarkResult field set.
const SchemaVersion = "1"

// Source names the collaborator a sample came from.
type Source string

const (
	SourceWorkload Source = "workload"
	SourceAgent    Source = "agent"
)

// MetricSample is a single timestamped reading from one collaborator.
type MetricSample struct {
	Source    Source    `json:"source"`
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Key identifies the metric stream the sample belongs to, e.g. "workload.latency_p95".
func (s MetricSample) Key() string {
	return MetricKey(s.Source, s.Metric)
}

// MetricKey joins a source and a metric name.
func MetricKey(src Source, metric string) string {
	return string(src) + "." + metric
}

// FlagKind classifies a data-quality problem seen while collecting a window.
type FlagKind string

const (
	// FlagClockSkew marks a sample dropped because its timestamp went backwards.
	FlagClockSkew FlagKind = "clock_skew"
	// FlagRetried marks a poll that succeeded only after retrying.
	FlagRetried FlagKind = "retried"
)

// DataQualityFlag records a recoverable problem attached to a window.
type DataQualityFlag struct {
	Kind   FlagKind  `json:"kind"`
	Source Source    `json:"source"`
	Metric string    `json:"metric,omitempty"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// MeasurementWindow is an ordered run of samples covering [Start, End].
type MeasurementWindow struct {
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	MinDuration time.Duration     `json:"min_duration"`
	Samples     []MetricSample    `json:"samples"`
	Flags       []DataQualityFlag `json:"flags,omitempty"`
}

// ErrInvalidWindow is returned by Validate.
var ErrInvalidWindow = errors.New("invalid measurement window")

// Duration is the wall-clock span the window covers.
func (w *MeasurementWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Validate checks ordering and minimum duration.
func (w *MeasurementWindow) Validate() error {
	if w.Duration() < w.MinDuration {
		return fmt.Errorf("%w: duration %v below minimum %v", ErrInvalidWindow, w.Duration(), w.MinDuration)
	}
	for i := 1; i < len(w.Samples); i++ {
		if w.Samples[i].Timestamp.Before(w.Samples[i-1].Timestamp) {
			return fmt.Errorf("%w: sample %d at %v precedes sample %d at %v", ErrInvalidWindow,
				i, w.Samples[i].Timestamp, i-1, w.Samples[i-1].Timestamp)
		}
	}
	return nil
}

// HasFlag reports whether the window carries a flag of the given kind.
func (w *MeasurementWindow) HasFlag(kind FlagKind) bool {
	for _, f := range w.Flags {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// TrendStatus tells whether a slope could be computed.
type TrendStatus string

const (
	TrendOK               TrendStatus = "ok"
	TrendInsufficientData TrendStatus = "insufficient-data"
)

// Trend is an OLS slope in value units per second.
// Slope is only meaningful when Status is TrendOK.
type Trend struct {
	Status TrendStatus `json:"status"`
	Slope  float64     `json:"slope,omitempty"`
}

// Valid reports whether the slope was computed.
func (t Trend) Valid() bool {
	return t.Status == TrendOK
}

// QuantileValue is one computed quantile.
type QuantileValue struct {
	P     float64 `json:"p"`
	Value float64 `json:"value"`
}

// MetricStats summarizes one metric stream within a window.
type MetricStats struct {
	Key       string          `json:"key"`
	Count     int             `json:"count"`
	Mean      float64         `json:"mean"`
	StdDev    float64         `json:"stddev"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	Quantiles []QuantileValue `json:"quantiles"`
	Trend     Trend           `json:"trend"`
}

// Quantile returns the value computed for p, if any.
func (m MetricStats) Quantile(p float64) (float64, bool) {
	for _, q := range m.Quantiles {
		if q.P == p {
			return q.Value, true
		}
	}
	return 0, false
}

// AggregateStats is the per-window summary. Metrics are sorted by Key.
type AggregateStats struct {
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	SampleCount int           `json:"sample_count"`
	FlagCount   int           `json:"flag_count"`
	Metrics     []MetricStats `json:"metrics"`
}

// Metric looks up the stats for a metric key.
func (a *AggregateStats) Metric(key string) (MetricStats, bool) {
	for _, m := range a.Metrics {
		if m.Key == key {
			return m, true
		}
	}
	return MetricStats{}, false
}

// Verdict is the classification of a round, or of a whole run.
type Verdict string

const (
	VerdictTransient    Verdict = "transient"
	VerdictConverged    Verdict = "converged"
	VerdictDiverged     Verdict = "diverged"
	VerdictInconclusive Verdict = "inconclusive-budget-exhausted"
	// VerdictCancelled is only used as a final verdict.
	VerdictCancelled Verdict = "cancelled"
)

// Decisive reports whether the verdict ends the rounds at a parameter value.
func (v Verdict) Decisive() bool {
	return v == VerdictConverged || v == VerdictDiverged || v == VerdictInconclusive
}

// Round is one measure-and-classify cycle at a fixed parameter value.
type Round struct {
	Index     int             `json:"index"`
	Step      int             `json:"step"`
	Attempt   int             `json:"attempt"`
	Parameter float64         `json:"parameter"`
	Stats     *AggregateStats `json:"stats,omitempty"`
	KeyValue  *float64        `json:"key_value,omitempty"`
	Headroom  bool            `json:"headroom"`
	Verdict   Verdict         `json:"verdict"`
	Flags     []FlagKind      `json:"flags,omitempty"`
	Note      string          `json:"note,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// BenchmarkResult is the final record of one scenario run.
type BenchmarkResult struct {
	SchemaVersion  string        `json:"schema_version"`
	RunID          string        `json:"run_id"`
	Scenario       string        `json:"scenario"`
	ScenarioDigest string        `json:"scenario_digest"`
	Strategy       string        `json:"strategy"`
	Knob           string        `json:"knob"`
	Rounds         []Round       `json:"rounds"`
	Steps          int           `json:"steps"`
	Best           *float64      `json:"best,omitempty"`
	Final          Verdict       `json:"final_verdict"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
	Notes          []string      `json:"notes,omitempty"`
}
