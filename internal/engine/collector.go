/*
PURPOSE:
  Sample Collector. Polls the workload generator and the resource-control
  agent at a fixed cadence and merges both streams into one
  MeasurementWindow.

REQUIREMENTS:
  User-specified:
  - collect(duration, cadence); cadence must be <= duration/4.
  - Unavailable collaborators are retried a bounded number of times with
    backoff before the window is abandoned.
  - Non-monotonic timestamps drop the sample and flag the window.
  - Both sources are polled concurrently and joined before a window is valid.

  Implementation-discovered:
  - Cancellation is only observed between rounds, so polling runs on a
    context detached from the caller's cancel; per-call timeouts still apply.
  - Skew is judged per metric stream; two daemons' clocks are not comparable
    sample by sample. The merged window is then sorted by timestamp.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go
  - Uses: internal/collab, internal/telemetry

ERROR HANDLING:
  - Bad cadence -> config.ErrConfig.
  - Retries exhausted -> error wrapping collab.ErrUnavailable.
  - A rejecting read is not retried.

IMPLEMENTATION RULES:
  - Retries: cenkalti/backoff/v5, exponential, MaxTries = retries + 1.
  - Fan-out: errgroup.

USAGE:
  c := &engine.Collector{Workload: w, Agent: a, Retries: 3}
  win, err := c.Collect(ctx, 30*time.Second, time.Second)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Keep flag kinds in sync with model.FlagKind.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/resctl-bench/internal/collab"
	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
	"github.com/daryltucker/resctl-bench/internal/telemetry"
)

// Collector gathers measurement windows.
type Collector struct {
	Workload collab.Workload
	Agent    collab.Agent

	// Retries is how many times a failed poll is retried.
	Retries int
	// Backoff is the first retry delay; later delays grow exponentially.
	Backoff time.Duration
	// CallTimeout bounds each collaborator call.
	CallTimeout time.Duration

	Metrics *telemetry.Metrics
}

type reader func(context.Context) ([]model.MetricSample, error)

type pollResult struct {
	samples []model.MetricSample
	retried bool
}

// Collect polls both collaborators every cadence until duration has elapsed.
func (c *Collector) Collect(ctx context.Context, duration, cadence time.Duration) (model.MeasurementWindow, error) {
	if duration <= 0 || cadence <= 0 || cadence*4 > duration {
		return model.MeasurementWindow{}, fmt.Errorf("%w: cadence %v must be positive and at most duration/4 (%v)",
			config.ErrConfig, cadence, duration/4)
	}

	pollCtx := context.WithoutCancel(ctx)
	start := time.Now()
	deadline := start.Add(duration)
	w := model.MeasurementWindow{Start: start, MinDuration: duration}
	last := map[string]time.Time{}

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		wl, ag, err := c.poll(pollCtx)
		if err != nil {
			w.End = time.Now()
			return w, err
		}
		for _, res := range []struct {
			src model.Source
			pollResult
		}{{model.SourceWorkload, wl}, {model.SourceAgent, ag}} {
			if res.retried {
				c.flag(&w, model.DataQualityFlag{Kind: model.FlagRetried, Source: res.src, At: time.Now()})
			}
			for _, s := range res.samples {
				c.admit(&w, last, s)
			}
		}

		if !time.Now().Before(deadline) {
			break
		}
		<-ticker.C
	}

	w.End = time.Now()
	sort.SliceStable(w.Samples, func(i, j int) bool {
		return w.Samples[i].Timestamp.Before(w.Samples[j].Timestamp)
	})
	if err := w.Validate(); err != nil {
		return w, err
	}
	return w, nil
}

func (c *Collector) admit(w *model.MeasurementWindow, last map[string]time.Time, s model.MetricSample) {
	key := s.Key()
	if prev, ok := last[key]; ok && s.Timestamp.Before(prev) {
		c.flag(w, model.DataQualityFlag{
			Kind:   model.FlagClockSkew,
			Source: s.Source,
			Metric: s.Metric,
			At:     s.Timestamp,
			Detail: fmt.Sprintf("timestamp %s precedes %s", s.Timestamp.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)),
		})
		return
	}
	last[key] = s.Timestamp
	w.Samples = append(w.Samples, s)
	output.Logger.Debug("Sample", "key", key, "value", s.Value)
}

func (c *Collector) flag(w *model.MeasurementWindow, f model.DataQualityFlag) {
	w.Flags = append(w.Flags, f)
	c.Metrics.DataQualityFlag(string(f.Kind))
	output.Logger.Warn("Data quality flag", "kind", f.Kind, "source", f.Source, "metric", f.Metric, "detail", f.Detail)
}

func (c *Collector) poll(ctx context.Context) (wl, ag pollResult, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wl, err = c.fetch(gctx, model.SourceWorkload, c.Workload.ReadMetrics)
		return err
	})
	g.Go(func() error {
		var err error
		ag, err = c.fetch(gctx, model.SourceAgent, c.Agent.ReadState)
		return err
	})
	err = g.Wait()
	return wl, ag, err
}

func (c *Collector) fetch(ctx context.Context, src model.Source, read reader) (pollResult, error) {
	attempts := 0
	op := func() ([]model.MetricSample, error) {
		attempts++
		callCtx := ctx
		if c.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
		}
		samples, err := read(callCtx)
		if err != nil && !errors.Is(err, collab.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return samples, err
	}

	b := backoff.NewExponentialBackOff()
	if c.Backoff > 0 {
		b.InitialInterval = c.Backoff
		b.MaxInterval = 16 * c.Backoff
	}

	samples, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.Metrics.CollectorRetry(string(src))
			output.Logger.Warn("Collaborator poll failed, retrying", "source", src, "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err != nil {
		return pollResult{}, fmt.Errorf("poll %s after %d attempts: %w", src, attempts, err)
	}
	return pollResult{samples: samples, retried: attempts > 1}, nil
}
