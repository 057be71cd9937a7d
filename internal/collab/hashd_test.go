package collab

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/resctl-bench/internal/model"
)

func TestHashdDefaults(t *testing.T) {
	p := DefaultHashdParams()
	assert.Equal(t, 0.075, p.LatTarget)
	assert.Equal(t, 0.02, p.SleepMean)
	assert.Equal(t, uint32(65536), p.ConcurrencyMax)
	assert.Equal(t, PidParams{Kp: 0.25, Ki: 0.01, Kd: 0.01}, p.RpsPid)
	assert.Zero(t, p.LogPadding())

	p.RpsMax = 1000
	assert.Equal(t, uint64(1101), p.LogPadding())

	p.FileFrac = 0
	p.Loaded()
	assert.Equal(t, FileFracMin, p.FileFrac)
}

func TestHashdConfigureWritesParams(t *testing.T) {
	dir := t.TempDir()
	h := NewHashd(dir)

	err := h.Configure(context.Background(), Params{"mem_frac": 0.5, "rps_max": 2000})
	require.NoError(t, err)

	path := filepath.Join(dir, hashdParamsFile)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "//"), "params.json starts with the doc preamble")

	p, err := readHashdParams(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.MemFrac)
	assert.Equal(t, uint32(2000), p.RpsMax)
	assert.Equal(t, 0.25, p.FileFrac, "omitted keys keep defaults")

	matches, err := filepath.Glob(filepath.Join(dir, hashdParamsFile+".*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestHashdConfigureRejects(t *testing.T) {
	cases := map[string]Params{
		"unknown key":  {"no_such_knob": 1},
		"wrong type":   {"mem_frac": "lots"},
		"out of range": {"file_frac": 1.5},
		"bad period":   {"control_period": 0.0},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			h := NewHashd(t.TempDir())
			err := h.Configure(context.Background(), p)
			require.Error(t, err)
			assert.True(t, IsReject(err), "got %v", err)
			assert.False(t, errors.Is(err, ErrUnavailable))
		})
	}
}

func TestHashdResetIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	h := NewHashd(dir)
	ctx := context.Background()

	require.NoError(t, h.Configure(ctx, Params{"mem_frac": 0.3}))
	require.NoError(t, h.Reset(ctx))
	require.NoError(t, h.Reset(ctx))

	p, err := readHashdParams(filepath.Join(dir, hashdParamsFile))
	require.NoError(t, err)
	assert.Equal(t, DefaultHashdParams(), p)
}

func writeReport(t *testing.T, dir string, ts time.Time, rps, p99 float64) {
	t.Helper()
	rep := map[string]any{
		"timestamp": ts.Format(time.RFC3339Nano),
		"hasher": map[string]any{
			"rps":         rps,
			"concurrency": 12.0,
			"lat":         map[string]float64{"p50": 0.01, "p99": p99},
		},
	}
	data, err := json.Marshal(rep)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, hashdReportFile), data, 0644))
}

func TestHashdReadMetrics(t *testing.T) {
	dir := t.TempDir()
	h := NewHashd(dir)
	ctx := context.Background()

	samples, err := h.ReadMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, samples, "no report yet")

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	writeReport(t, dir, t0, 900, 0.07)

	samples, err = h.ReadMetrics(ctx)
	require.NoError(t, err)
	byMetric := map[string]float64{}
	for _, s := range samples {
		assert.Equal(t, model.SourceWorkload, s.Source)
		assert.True(t, s.Timestamp.Equal(t0))
		byMetric[s.Metric] = s.Value
	}
	assert.Equal(t, 900.0, byMetric["rps"])
	assert.Equal(t, 0.07, byMetric["latency_p99"])
	assert.Equal(t, 0.01, byMetric["latency_p50"])
	assert.NotContains(t, byMetric, "latency_p90")

	samples, err = h.ReadMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, samples, "same report is not re-emitted")

	writeReport(t, dir, t0.Add(time.Second), 950, 0.08)
	samples, err = h.ReadMetrics(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, samples)
}

func TestHashdLogPaddingSample(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	padding := func(samples []model.MetricSample) (float64, bool) {
		for _, s := range samples {
			if s.Metric == "log_padding" {
				return s.Value, true
			}
		}
		return 0, false
	}

	h := NewHashd(dir)
	writeReport(t, dir, t0, 900, 0.07)
	samples, err := h.ReadMetrics(ctx)
	require.NoError(t, err)
	_, ok := padding(samples)
	assert.False(t, ok, "no params known yet")

	require.NoError(t, h.Configure(ctx, Params{"rps_max": 1000}))
	writeReport(t, dir, t0.Add(time.Second), 900, 0.07)
	samples, err = h.ReadMetrics(ctx)
	require.NoError(t, err)
	v, ok := padding(samples)
	require.True(t, ok)
	assert.Equal(t, 1101.0, v)

	// A fresh adapter picks the params up from disk.
	fresh := NewHashd(dir)
	samples, err = fresh.ReadMetrics(ctx)
	require.NoError(t, err)
	v, ok = padding(samples)
	require.True(t, ok)
	assert.Equal(t, 1101.0, v)
}
