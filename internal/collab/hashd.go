/*
PURPOSE:
  Workload adapter for rd-hashd, which is driven through files:
  it re-reads params.json whenever it changes and periodically rewrites
  report.json.

REQUIREMENTS:
  User-specified:
  - configure(params) -> ok | reject(reason)
  - read_metrics() -> samples since last read
  - reset() restores defaults, idempotent.

  Implementation-discovered:
  - Partial writes would be picked up by the daemon; write to a temp file
    and rename.
  - The report is a snapshot, so "since last read" means "newer timestamp".
  - The report does not carry the log padding rd-hashd derives from its
    params, so it is emitted as a derived log_padding sample from the
    params in effect (read back from params.json when this adapter has not
    published any yet).

ARCHITECTURE INTEGRATION:
  - Implements: collab.Workload
  - Built by: internal/cli from config.WorkloadConfig

ERROR HANDLING:
  - Unknown keys, wrong types, out-of-range fractions -> RejectError.
  - File system failures -> ErrUnavailable.

IMPLEMENTATION RULES:
  - Merge scenario params onto DefaultHashdParams so omitted keys keep
    rd-hashd's defaults.

USAGE:
  h := collab.NewHashd("/var/lib/rd-hashd")

SELF-HEALING INSTRUCTIONS:
  - If rd-hashd adds params, add fields to HashdParams; unknown keys are rejected.

RELATED FILES:
  - internal/collab/hashd_params.go

MAINTENANCE:
  - Keep report field names in sync with rd-hashd's report format.
*/

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
)

const (
	hashdParamsFile = "params.json"
	hashdReportFile = "report.json"
)

// HashdReport is the subset of rd-hashd's report.json the adapter reads.
type HashdReport struct {
	Timestamp time.Time `json:"timestamp"`
	Hasher    struct {
		Rps         float64            `json:"rps"`
		Concurrency float64            `json:"concurrency"`
		Lat         map[string]float64 `json:"lat"`
		FileAddr    float64            `json:"file_addr_frac"`
		AnonAddr    float64            `json:"anon_addr_frac"`
	} `json:"hasher"`
}

// Hashd drives rd-hashd through its params and report files.
type Hashd struct {
	dir string

	mu       sync.Mutex
	lastSeen time.Time
	params   *HashdParams
}

// NewHashd returns an adapter for the rd-hashd instance using dir.
func NewHashd(dir string) *Hashd {
	return &Hashd{dir: dir}
}

// Configure merges p onto the defaults and publishes params.json.
func (h *Hashd) Configure(ctx context.Context, p Params) error {
	params, err := h.merge(p)
	if err != nil {
		return err
	}
	if err := h.write(ctx, params); err != nil {
		return err
	}
	output.Logger.Debug("Published hashd params", "rps_max", params.RpsMax, "log_padding", params.LogPadding())
	return nil
}

// Reset publishes the default parameters.
func (h *Hashd) Reset(ctx context.Context) error {
	return h.write(ctx, DefaultHashdParams())
}

// ReadMetrics returns the report's readings if it is newer than the last read.
func (h *Hashd) ReadMetrics(ctx context.Context) ([]model.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(model.SourceWorkload, err)
	}
	data, err := os.ReadFile(filepath.Join(h.dir, hashdReportFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, Unavailable(model.SourceWorkload, err)
	}
	var rep HashdReport
	if err := json.Unmarshal(data, &rep); err != nil {
		// rd-hashd may be mid-rewrite; treat as nothing new rather than a fault.
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !rep.Timestamp.After(h.lastSeen) {
		return nil, nil
	}
	h.lastSeen = rep.Timestamp
	samples := reportSamples(rep)
	if p := h.currentLocked(); p != nil {
		samples = append(samples, model.MetricSample{
			Source:    model.SourceWorkload,
			Metric:    "log_padding",
			Timestamp: rep.Timestamp,
			Value:     float64(p.LogPadding()),
		})
	}
	return samples, nil
}

// currentLocked returns the params in effect, or nil if none are known.
func (h *Hashd) currentLocked() *HashdParams {
	if h.params != nil {
		return h.params
	}
	p, err := readHashdParams(filepath.Join(h.dir, hashdParamsFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			output.Logger.Debug("Unreadable hashd params", "error", err)
		}
		return nil
	}
	h.params = &p
	return h.params
}

func reportSamples(rep HashdReport) []model.MetricSample {
	ts := rep.Timestamp
	sample := func(name string, v float64) model.MetricSample {
		return model.MetricSample{Source: model.SourceWorkload, Metric: name, Timestamp: ts, Value: v}
	}
	out := []model.MetricSample{
		sample("rps", rep.Hasher.Rps),
		sample("concurrency", rep.Hasher.Concurrency),
		sample("file_addr_frac", rep.Hasher.FileAddr),
		sample("anon_addr_frac", rep.Hasher.AnonAddr),
	}
	for _, pct := range []string{"p50", "p90", "p95", "p99", "max"} {
		if v, ok := rep.Hasher.Lat[pct]; ok {
			out = append(out, sample("latency_"+pct, v))
		}
	}
	return out
}

func (h *Hashd) merge(p Params) (HashdParams, error) {
	base, err := json.Marshal(DefaultHashdParams())
	if err != nil {
		return HashdParams{}, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return HashdParams{}, err
	}
	for k, v := range p {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return HashdParams{}, Reject(model.SourceWorkload, "unencodable params: %v", err)
	}

	var out HashdParams
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return HashdParams{}, Reject(model.SourceWorkload, "%v", err)
	}
	out.Loaded()
	if err := validateHashd(out); err != nil {
		return HashdParams{}, err
	}
	return out, nil
}

func validateHashd(p HashdParams) error {
	fracs := map[string]float64{
		"mem_frac":                p.MemFrac,
		"file_frac":               p.FileFrac,
		"file_write_frac":         p.FileWriteFrac,
		"anon_write_frac":         p.AnonWriteFrac,
		"file_addr_rps_base_frac": p.FileAddrRpsBaseFrac,
		"anon_addr_rps_base_frac": p.AnonAddrRpsBaseFrac,
		"lat_target_pct":          p.LatTargetPct,
	}
	for name, v := range fracs {
		if v < 0 || v > 1 {
			return Reject(model.SourceWorkload, "%s=%v not in [0, 1]", name, v)
		}
	}
	if p.ControlPeriod <= 0 {
		return Reject(model.SourceWorkload, "control_period must be positive")
	}
	if p.LatTarget <= 0 {
		return Reject(model.SourceWorkload, "lat_target must be positive")
	}
	return nil
}

func (h *Hashd) write(ctx context.Context, p HashdParams) error {
	if err := ctx.Err(); err != nil {
		return Unavailable(model.SourceWorkload, err)
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hashd params: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(HashdParamsDoc)
	buf.Write(body)
	buf.WriteByte('\n')

	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return Unavailable(model.SourceWorkload, err)
	}
	tmp, err := os.CreateTemp(h.dir, hashdParamsFile+".*")
	if err != nil {
		return Unavailable(model.SourceWorkload, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return Unavailable(model.SourceWorkload, err)
	}
	if err := tmp.Close(); err != nil {
		return Unavailable(model.SourceWorkload, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(h.dir, hashdParamsFile)); err != nil {
		return Unavailable(model.SourceWorkload, err)
	}

	h.mu.Lock()
	h.params = &p
	h.mu.Unlock()
	return nil
}

// readHashdParams parses a params.json, skipping the comment preamble.
func readHashdParams(path string) (HashdParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HashdParams{}, err
	}
	var body bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		body.Write(line)
		body.WriteByte('\n')
	}
	var p HashdParams
	if err := json.Unmarshal(body.Bytes(), &p); err != nil {
		return HashdParams{}, fmt.Errorf("parse %s: %w", path, err)
	}
	p.Loaded()
	return p, nil
}
