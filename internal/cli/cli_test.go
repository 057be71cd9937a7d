package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/resctl-bench/internal/assets"
	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
)

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel, logFormat = "", "", ""
	outputOverride, checkpointOverride, metricsOverride, traceOverride = "", "", "", ""
	scenarioFilter = nil
	listCheckpoints, showRounds = false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScenarioInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")

	out, err := execute(t, "scenario", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, assets.ExampleConfig, data)

	_, err = execute(t, "scenario", "init", path)
	assert.ErrorContains(t, err, "refusing to overwrite")
}

func TestExampleConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, assets.ExampleConfig, 0644))

	out, err := execute(t, "scenario", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rps-knee")
	assert.Contains(t, out, "memory-squeeze")
	assert.Contains(t, out, "file-frac-sweep")
}

// fakeStack serves the workload and agent control APIs. Latency jumps past
// the target once rps_max exceeds knee.
type fakeStack struct {
	knee float64

	mu   sync.Mutex
	knob float64

	workloadResets atomic.Int32
	agentResets    atomic.Int32
}

func (f *fakeStack) workload() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /params", func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if v, ok := p["rps_max"].(float64); ok {
			f.mu.Lock()
			f.knob = v
			f.mu.Unlock()
		}
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		lat := 0.005
		if f.knob > f.knee {
			lat = 0.050
		}
		f.mu.Unlock()
		fmt.Fprintf(w, `{"samples":[{"metric":"latency_p95","timestamp":%q,"value":%v}]}`,
			time.Now().UTC().Format(time.RFC3339Nano), lat)
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		f.workloadResets.Add(1)
	})
	return httptest.NewServer(mux)
}

func (f *fakeStack) agent() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /limits", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"samples":[]}`)
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		f.agentResets.Add(1)
	})
	return httptest.NewServer(mux)
}

const e2eConfig = `
output_dir: %s
log_level: error
workload:
  kind: http
  url: %s
agent:
  kind: http
  url: %s
scenarios:
  - name: knee
    knob:
      name: rps_max
    warmup: 1ms
    measure:
      duration: 20ms
      cadence: 5ms
      retry_backoff: 1ms
      call_timeout: 500ms
    convergence:
      key_metric: workload.latency_p95
      window: 2
      max_rounds: 4
      divergence_slope: 100
    target:
      max: 0.010
    search:
      strategy: bisection
      low: 0
      high: 100
      resolution: 1
`

func TestRunShowResume(t *testing.T) {
	stack := &fakeStack{knee: 40}
	wl, ag := stack.workload(), stack.agent()
	defer wl.Close()
	defer ag.Close()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	ckptDir := filepath.Join(dir, "ckpt")
	cfgPath := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(e2eConfig, outDir, wl.URL, ag.URL)), 0644))

	out, err := execute(t, "run", "--config", cfgPath, "--checkpoint-dir", ckptDir)
	require.NoError(t, err)
	assert.Contains(t, out, "knee")
	assert.Contains(t, out, string(model.VerdictConverged))
	assert.Equal(t, int32(1), stack.workloadResets.Load())
	assert.Equal(t, int32(1), stack.agentResets.Load())

	resultsPath := filepath.Join(outDir, resultsFile)
	f, err := os.Open(resultsPath)
	require.NoError(t, err)
	results, err := output.ReadResults(f)
	f.Close()
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, model.VerdictConverged, res.Final)
	require.NotNil(t, res.Best)
	assert.InDelta(t, 40, *res.Best, 1)
	assert.LessOrEqual(t, res.Steps, 7)

	csvData, err := os.ReadFile(filepath.Join(outDir, roundsFile))
	require.NoError(t, err)
	assert.Contains(t, string(csvData), res.RunID)

	out, err = execute(t, "show", resultsPath, "--rounds")
	require.NoError(t, err)
	assert.Contains(t, out, "VERDICT")
	assert.Contains(t, out, "knee")

	out, err = execute(t, "resume", "--list", "--config", cfgPath, "--checkpoint-dir", ckptDir)
	require.NoError(t, err)
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "done")

	_, err = execute(t, "resume", res.RunID, "--config", cfgPath, "--checkpoint-dir", ckptDir, "-o", filepath.Join(dir, "again"))
	assert.Error(t, err, "finished runs cannot be resumed")
}

func TestRunUnknownScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, assets.ExampleConfig, 0644))

	_, err := execute(t, "run", "--config", path, "--scenario", "nope", "-o", t.TempDir())
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestResumeNeedsCheckpointDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(e2eConfig, t.TempDir(), "http://127.0.0.1:1", "http://127.0.0.1:1")), 0644))

	_, err := execute(t, "resume", "--list", "--config", path)
	assert.ErrorIs(t, err, config.ErrConfig)
}
