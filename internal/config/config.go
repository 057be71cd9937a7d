/*
PURPOSE:
  Defines the configuration structure and loading logic for resctl-bench:
  where results go, how to reach the collaborators, and the scenarios to run.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Invalid scenario parameters are a ConfigError, surfaced before any
    collaborator is touched.
  - Sample cadence must be at most a quarter of the measurement duration.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs to support Environment variables overrides (RESCTL_BENCH_...).
  - Typos in keys are errors; a silently ignored tolerance wastes hours.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/checkpoint
  - Dependencies: gopkg.in/yaml.v3, go-playground/validator/v10

ERROR HANDLING:
  - Every failure wraps ErrConfig; field problems come as *ValidationError.
  - A missing explicit file is an error; no file found by search yields defaults.

IMPLEMENTATION RULES:
  - Config struct tags support yaml and validate.
  - Zero values in a scenario mean "use the default".

USAGE:
  cfg, err := config.Load("resctl-bench.yaml")
  if err := cfg.Validate(); err != nil { ... }

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to the struct, applyDefaults() and the
    embedded example in internal/assets.

RELATED FILES:
  - internal/cli/root.go
  - internal/assets/example.yaml

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfig is wrapped by every configuration failure.
var ErrConfig = errors.New("configuration error")

// DefaultFiles are searched, in order, when no path is given.
var DefaultFiles = []string{"resctl-bench.yaml", "bench.yaml"}

const envPrefix = "RESCTL_BENCH_"

const (
	DefaultWarmup       = 5 * time.Second
	DefaultDuration     = 30 * time.Second
	DefaultCadence      = time.Second
	DefaultRetries      = 3
	DefaultRetryBackoff = 250 * time.Millisecond
	DefaultCallTimeout  = 2 * time.Second
	DefaultKeyQuantile  = 0.5
)

// Config represents the full configuration for resctl-bench.
type Config struct {
	OutputDir     string `yaml:"output_dir" validate:"required"`
	CheckpointDir string `yaml:"checkpoint_dir"` // empty disables checkpoints
	LogLevel      string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat     string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	MetricsAddr   string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout"`

	Workload  Collaborator `yaml:"workload"`
	Agent     Collaborator `yaml:"agent"`
	Scenarios []Scenario   `yaml:"scenarios" validate:"required,min=1,dive"`
}

// Collaborator says how to reach one external process.
type Collaborator struct {
	// Kind is "hashd" (file based, workload only) or "http".
	Kind    string        `yaml:"kind" validate:"required,oneof=hashd http"`
	Dir     string        `yaml:"dir"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Scenario is one benchmark: a knob, how to measure, and how to search it.
type Scenario struct {
	Name           string         `yaml:"name" json:"name" validate:"required"`
	Knob           Knob           `yaml:"knob" json:"knob"`
	WorkloadParams map[string]any `yaml:"workload_params" json:"workload_params,omitempty"`
	AgentParams    map[string]any `yaml:"agent_params" json:"agent_params,omitempty"`
	Warmup         time.Duration  `yaml:"warmup" json:"warmup" validate:"gte=0"`
	Measure        Measure        `yaml:"measure" json:"measure"`
	Convergence    Convergence    `yaml:"convergence" json:"convergence"`
	Target         Target         `yaml:"target" json:"target"`
	Search         Search         `yaml:"search" json:"search"`
}

// Knob names the parameter under search and which collaborator takes it.
type Knob struct {
	Name   string `yaml:"name" json:"name" validate:"required"`
	Target string `yaml:"target" json:"target" validate:"oneof=workload agent"`
}

type Measure struct {
	Duration     time.Duration `yaml:"duration" json:"duration" validate:"gt=0"`
	Cadence      time.Duration `yaml:"cadence" json:"cadence" validate:"gt=0"`
	Retries      *int          `yaml:"retries" json:"retries,omitempty" validate:"omitempty,gte=0,lte=100"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff" validate:"gte=0"`
	CallTimeout  time.Duration `yaml:"call_timeout" json:"call_timeout" validate:"gt=0"`
}

type Convergence struct {
	KeyMetric          string  `yaml:"key_metric" json:"key_metric" validate:"required"`
	KeyQuantile        float64 `yaml:"key_quantile" json:"key_quantile" validate:"gt=0,lte=1"`
	Window             int     `yaml:"window" json:"window" validate:"gte=1"`
	StabilityTolerance float64 `yaml:"stability_tolerance" json:"stability_tolerance" validate:"gte=0"`
	DivergenceSlope    float64 `yaml:"divergence_slope" json:"divergence_slope" validate:"gt=0"`
	DivergenceRounds   int     `yaml:"divergence_rounds" json:"divergence_rounds" validate:"gte=0"`
	MaxRounds          int     `yaml:"max_rounds" json:"max_rounds" validate:"gtefield=Window"`
}

// Target bounds the key statistic for a Converged round to count as headroom.
type Target struct {
	Max *float64 `yaml:"max" json:"max,omitempty"`
}

type Search struct {
	Strategy    string    `yaml:"strategy" json:"strategy" validate:"oneof=bisection sweep adaptive"`
	Low         float64   `yaml:"low" json:"low"`
	High        float64   `yaml:"high" json:"high"`
	Resolution  float64   `yaml:"resolution" json:"resolution" validate:"gte=0"`
	Favorable   string    `yaml:"favorable" json:"favorable" validate:"omitempty,oneof=up down"`
	Values      []float64 `yaml:"values" json:"values,omitempty"`
	Seed        float64   `yaml:"seed" json:"seed"`
	InitialStep float64   `yaml:"initial_step" json:"initial_step"`
	MaxSteps    int       `yaml:"max_steps" json:"max_steps" validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:     ".",
		LogLevel:      "info",
		LogFormat:     "text",
		TraceExporter: "none",
		Workload:      Collaborator{Kind: "hashd", Dir: "/var/lib/rd-hashd", Timeout: DefaultCallTimeout},
		Agent:         Collaborator{Kind: "http", URL: "http://127.0.0.1:8787", Timeout: DefaultCallTimeout},
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// If no file found, returns default config.
func Load(path string) (*Config, error) {
	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := Decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return cfg, nil
}

// Decode parses YAML into cfg, rejecting unknown keys.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"OUTPUT_DIR":     &c.OutputDir,
		"CHECKPOINT_DIR": &c.CheckpointDir,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FORMAT":     &c.LogFormat,
		"METRICS_ADDR":   &c.MetricsAddr,
		"TRACE_EXPORTER": &c.TraceExporter,
	}
	for key, field := range overrides {
		if v, ok := lookup(envPrefix + key); ok {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Workload.Timeout == 0 {
		c.Workload.Timeout = DefaultCallTimeout
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = DefaultCallTimeout
	}
	for i := range c.Scenarios {
		c.Scenarios[i].ApplyDefaults()
	}
}

// Scenario returns the scenario called name.
func (c *Config) Scenario(name string) (Scenario, bool) {
	for _, s := range c.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrConfig
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags
// cannot express. It returns nil or a *ValidationError.
func (c *Config) Validate() error {
	var problems []string
	problems = append(problems, structProblems(c)...)

	if c.Workload.Kind == "hashd" && c.Workload.Dir == "" {
		problems = append(problems, "workload.dir is required for kind hashd")
	}
	if c.Workload.Kind == "http" && c.Workload.URL == "" {
		problems = append(problems, "workload.url is required for kind http")
	}
	if c.Agent.Kind != "http" {
		problems = append(problems, fmt.Sprintf("agent.kind %q is not supported, use http", c.Agent.Kind))
	} else if c.Agent.URL == "" {
		problems = append(problems, "agent.url is required")
	}

	seen := map[string]bool{}
	for _, s := range c.Scenarios {
		if seen[s.Name] {
			problems = append(problems, fmt.Sprintf("scenario %q defined twice", s.Name))
		}
		seen[s.Name] = true
		problems = append(problems, s.crossProblems()...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Validate checks a single scenario.
func (s Scenario) Validate() error {
	problems := append(structProblems(s), s.crossProblems()...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func structProblems(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			out = append(out, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return out
}
