package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
output_dir: out
checkpoint_dir: ckpt
workload:
  kind: hashd
  dir: /tmp/hashd
agent:
  kind: http
  url: http://127.0.0.1:8787
  timeout: 3s
scenarios:
  - name: mem-squeeze
    knob:
      name: mem_high_frac
      target: agent
    workload_params:
      rps_max: 2000
    warmup: 10s
    measure:
      duration: 20s
      cadence: 1s
      retries: 3
    convergence:
      key_metric: workload.latency_p95
      key_quantile: 0.5
      window: 2
    target:
      max: 0.075
    search:
      strategy: bisection
      low: 0
      high: 100
      resolution: 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, 3*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, DefaultCallTimeout, cfg.Workload.Timeout)

	s, ok := cfg.Scenario("mem-squeeze")
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, s.Warmup)
	assert.Equal(t, 20*time.Second, s.Measure.Duration)
	assert.Equal(t, DefaultRetryBackoff, s.Measure.RetryBackoff)
	assert.Equal(t, 3, s.Measure.RetryCount())
	assert.Equal(t, 2, s.Convergence.Window)
	assert.Equal(t, 8, s.Convergence.MaxRounds)
	assert.Equal(t, "up", s.Search.Favorable)
	assert.Equal(t, 2000, s.WorkloadParams["rps_max"])
	require.NotNil(t, s.Target.Max)
	assert.True(t, s.Target.Headroom(0.005))
	assert.False(t, s.Target.Headroom(0.05+0.03))

	tol := s.Tolerances()
	assert.Equal(t, "workload.latency_p95", tol.KeyMetric)
	assert.Equal(t, 100.0, s.SearchConfig().High)
}

func TestRetriesDefaultAndExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, strings.Replace(validYAML, "      retries: 3\n", "", 1)))
	require.NoError(t, err)
	assert.Equal(t, DefaultRetries, cfg.Scenarios[0].Measure.RetryCount())

	cfg, err = Load(writeConfig(t, strings.Replace(validYAML, "retries: 3", "retries: 0", 1)))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Scenarios[0].Measure.RetryCount())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "output_dir: x\nouptut_file: y\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadSearchesDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Scenarios, "no file falls back to defaults")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bench.yaml"), []byte(validYAML), 0644))
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Scenarios, 1)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESCTL_BENCH_OUTPUT_DIR", "/srv/results")
	t.Setenv("RESCTL_BENCH_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "/srv/results", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ckpt", cfg.CheckpointDir)
}

func TestValidateProblems(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"no scenarios", func(c *Config) { c.Scenarios = nil }, "Scenarios"},
		{"cadence too coarse", func(c *Config) { c.Scenarios[0].Measure.Cadence = 6 * time.Second }, "exceeds duration/4"},
		{"degenerate range", func(c *Config) { c.Scenarios[0].Search.High = 0.5 }, "not wider than resolution"},
		{"unknown strategy", func(c *Config) { c.Scenarios[0].Search.Strategy = "annealing" }, "Strategy"},
		{"quantile out of range", func(c *Config) { c.Scenarios[0].Convergence.KeyQuantile = 1.5 }, "KeyQuantile"},
		{"empty sweep", func(c *Config) { c.Scenarios[0].Search.Strategy = "sweep" }, "at least one value"},
		{"divergence above ceiling", func(c *Config) {
			c.Scenarios[0].Convergence.DivergenceRounds = 9
		}, "divergence rounds 9 above max rounds 8"},
		{"knob in params", func(c *Config) { c.Scenarios[0].AgentParams = map[string]any{"mem_high_frac": 1} }, "also set"},
		{"duplicate", func(c *Config) { c.Scenarios = append(c.Scenarios, c.Scenarios[0]) }, "defined twice"},
		{"hashd agent", func(c *Config) { c.Agent.Kind = "hashd" }, "agent.kind"},
		{"http workload without url", func(c *Config) { c.Workload = Collaborator{Kind: "http"} }, "workload.url"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "LogLevel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tc.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.True(t, strings.Contains(verr.Error(), tc.problem), "%q not in %v", tc.problem, verr.Problems)
		})
	}
}
