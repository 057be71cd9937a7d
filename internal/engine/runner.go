/*
PURPOSE:
  Scenario Orchestrator. Runs one scenario as
  Setup -> {Warmup -> Measure -> Classify}* -> Teardown -> Finalize
  and returns the BenchmarkResult.

REQUIREMENTS:
  User-specified:
  - Setup rejection is fatal (ErrSetup) but still tears down.
  - Transient rounds repeat at the same parameter up to the round ceiling.
  - Decisive verdicts go to the search driver, which picks the next value.
  - Teardown resets both collaborators exactly once on every exit path.
  - Cancellation is observed between rounds, never mid-sample.

  Implementation-discovered:
  - A collector that gives up (retries exhausted) makes the round
    inconclusive and the search moves on; the run survives.
  - A parameter the collaborator refuses is treated like an inconclusive
    round at that value.
  - Checkpoint after every round so `resume` loses at most one round.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: collector.go, internal/stats, internal/convergence,
    internal/search, internal/result, internal/checkpoint, internal/telemetry

ERROR HANDLING:
  - config.ErrConfig for invalid scenarios (before touching collaborators).
  - ErrSetup wraps the collaborator's error.
  - ErrCancelled when cancelled before the first round completed.
  - Everything else is absorbed into round verdicts.

IMPLEMENTATION RULES:
  - One goroutine owns SearchState and the round history.
  - Collaborator calls made by the orchestrator carry the scenario's call
    timeout.

USAGE:
  r := &engine.Runner{Workload: w, Agent: a}
  res, err := r.Run(ctx, scenario)

SELF-HEALING INSTRUCTIONS:
  - If a new phase is added, keep it inside the teardown scope.

RELATED FILES:
  - internal/engine/collector.go
  - internal/result/builder.go

MAINTENANCE:
  - Update iteration logic if parallel scenarios ever share an agent
    (they must not today).
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/daryltucker/resctl-bench/internal/checkpoint"
	"github.com/daryltucker/resctl-bench/internal/collab"
	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/convergence"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
	"github.com/daryltucker/resctl-bench/internal/result"
	"github.com/daryltucker/resctl-bench/internal/search"
	"github.com/daryltucker/resctl-bench/internal/stats"
	"github.com/daryltucker/resctl-bench/internal/telemetry"
)

var (
	// ErrSetup means a collaborator refused or missed the initial configuration.
	ErrSetup = errors.New("setup failed")
	// ErrCancelled means the run was cancelled before any round completed.
	ErrCancelled = errors.New("run cancelled before the first round")
)

// DefaultTeardownTimeout bounds the reset calls made during teardown.
const DefaultTeardownTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/daryltucker/resctl-bench/internal/engine")

// Checkpointer persists in-flight runs.
type Checkpointer interface {
	Save(cp checkpoint.Checkpoint) error
}

// RoundObserver is told about every recorded round, in order.
type RoundObserver func(runID, scenario string, r model.Round)

// Runner drives scenarios against one workload/agent pair. Callers must not
// run two scenarios concurrently against the same agent.
type Runner struct {
	Workload collab.Workload
	Agent    collab.Agent

	// Optional.
	Store           Checkpointer
	Metrics         *telemetry.Metrics
	OnRound         RoundObserver
	TeardownTimeout time.Duration
}

type run struct {
	id        string
	scenario  config.Scenario
	state     search.State
	rounds    []model.Round
	startedAt time.Time
	notes     []string
	log       *slog.Logger
}

// Run executes a scenario from its initial search state.
func (r *Runner) Run(ctx context.Context, sc config.Scenario) (*model.BenchmarkResult, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	st, err := search.Init(sc.SearchConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	return r.execute(ctx, &run{
		id:        uuid.NewString(),
		scenario:  sc,
		state:     st,
		startedAt: time.Now().UTC(),
	})
}

// Resume continues a checkpointed run.
func (r *Runner) Resume(ctx context.Context, cp checkpoint.Checkpoint) (*model.BenchmarkResult, error) {
	if cp.Done {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrFinished, cp.RunID)
	}
	if err := cp.Scenario.Validate(); err != nil {
		return nil, err
	}
	return r.execute(ctx, &run{
		id:        cp.RunID,
		scenario:  cp.Scenario,
		state:     cp.Search,
		rounds:    append([]model.Round(nil), cp.Rounds...),
		startedAt: cp.StartedAt,
		notes:     []string{fmt.Sprintf("resumed after %d rounds", len(cp.Rounds))},
	})
}

func (r *Runner) execute(ctx context.Context, rn *run) (*model.BenchmarkResult, error) {
	rn.log = output.Logger.With("scenario", rn.scenario.Name, "run_id", rn.id)
	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("scenario", rn.scenario.Name),
		attribute.String("run_id", rn.id),
		attribute.String("strategy", string(rn.state.Kind)),
	))
	defer span.End()

	cancelled, err := r.drive(ctx, rn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if cancelled && len(rn.rounds) == 0 {
		span.SetStatus(codes.Error, ErrCancelled.Error())
		return nil, ErrCancelled
	}

	res, err := result.Build(result.Input{
		RunID:      rn.id,
		Scenario:   rn.scenario,
		Search:     rn.state,
		Rounds:     rn.rounds,
		Cancelled:  cancelled,
		StartedAt:  rn.startedAt,
		FinishedAt: time.Now().UTC(),
		Notes:      rn.notes,
	})
	if err != nil {
		return nil, err
	}
	if !cancelled {
		r.checkpoint(rn, true)
	}

	span.SetAttributes(attribute.String("final_verdict", string(res.Final)), attribute.Int("rounds", len(res.Rounds)))
	rn.log.Info("Scenario finished", "verdict", res.Final, "rounds", len(res.Rounds), "steps", res.Steps, "best", res.Best)
	return &res, nil
}

// drive holds the collaborators' configuration for the duration of the
// search and releases it on every path out.
func (r *Runner) drive(ctx context.Context, rn *run) (cancelled bool, err error) {
	defer r.teardown(ctx, rn)

	if err := r.setup(ctx, rn); err != nil {
		rn.log.Error("Setup failed", "error", err)
		return false, err
	}
	return r.loop(ctx, rn), nil
}

func (r *Runner) setup(ctx context.Context, rn *run) error {
	sc := rn.scenario
	rn.log.Info("Setting up", "knob", sc.Knob.Name, "target", sc.Knob.Target, "parameter", rn.state.Current)

	wp, ap := collab.Params(sc.WorkloadParams), collab.Params(sc.AgentParams)
	if sc.Knob.Target == "agent" {
		ap = ap.With(sc.Knob.Name, rn.state.Current)
	} else {
		wp = wp.With(sc.Knob.Name, rn.state.Current)
	}

	callCtx, cancel := r.callContext(ctx, sc)
	defer cancel()
	if err := r.Workload.Configure(callCtx, wp); err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if err := r.Agent.ApplyLimits(callCtx, ap); err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, rn *run) error {
	sc := rn.scenario
	callCtx, cancel := r.callContext(ctx, sc)
	defer cancel()

	if sc.Knob.Target == "agent" {
		return r.Agent.ApplyLimits(callCtx, collab.Params(sc.AgentParams).With(sc.Knob.Name, rn.state.Current))
	}
	return r.Workload.Configure(callCtx, collab.Params(sc.WorkloadParams).With(sc.Knob.Name, rn.state.Current))
}

// callContext detaches from cancellation so a started call is never cut
// short; the call timeout still bounds it.
func (r *Runner) callContext(ctx context.Context, sc config.Scenario) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sc.Measure.CallTimeout)
}

func (r *Runner) teardown(ctx context.Context, rn *run) {
	timeout := r.TeardownTimeout
	if timeout <= 0 {
		timeout = DefaultTeardownTimeout
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := r.Agent.Reset(tctx); err != nil {
		rn.log.Error("Agent reset failed", "error", err)
	}
	if err := r.Workload.Reset(tctx); err != nil {
		rn.log.Error("Workload reset failed", "error", err)
	}
	rn.log.Info("Collaborators reset")
}

func (r *Runner) loop(ctx context.Context, rn *run) (cancelled bool) {
	sc := rn.scenario
	tol := sc.Tolerances()
	agg := stats.NewAggregator([]float64{tol.KeyQuantile})
	col := &Collector{
		Workload:    r.Workload,
		Agent:       r.Agent,
		Retries:     sc.Measure.RetryCount(),
		Backoff:     sc.Measure.RetryBackoff,
		CallTimeout: sc.Measure.CallTimeout,
		Metrics:     r.Metrics,
	}
	hist := convergence.NewHistory(tol.Retained())
	attempt := restoreHistory(hist, rn)
	needApply := false

	for !rn.state.Done {
		if ctx.Err() != nil {
			rn.log.Warn("Run cancelled", "rounds", len(rn.rounds))
			return true
		}

		var rd model.Round
		if needApply {
			if err := r.apply(ctx, rn); err != nil {
				rd = r.refused(rn, err)
			}
			needApply = false
		}
		if rd.Verdict == "" {
			var ok bool
			if rd, ok = r.round(ctx, rn, col, agg, hist, tol, attempt); !ok {
				rn.log.Warn("Run cancelled during warmup", "rounds", len(rn.rounds))
				return true
			}
		}
		r.record(rn, rd)

		if !rd.Verdict.Decisive() {
			attempt++
			r.checkpoint(rn, false)
			continue
		}

		next, err := search.Next(rn.state, search.Observation{Verdict: rd.Verdict, Headroom: rd.Headroom})
		if err != nil {
			rn.log.Error("Search step failed", "error", err)
			rn.state.Done, rn.state.Reason = true, err.Error()
		} else {
			rn.state = next
		}
		hist.Reset()
		attempt = 1
		needApply = true
		r.checkpoint(rn, false)

		if rn.state.Done {
			rn.log.Info("Search complete", "reason", rn.state.Reason, "best", rn.state.Best, "has_best", rn.state.HasBest)
		} else {
			rn.log.Info("Next parameter", "parameter", rn.state.Current, "step", rn.state.Steps)
		}
	}
	return false
}

// restoreHistory refills the convergence history from rounds already run at
// the current step and returns the next attempt number.
func restoreHistory(hist *convergence.History, rn *run) int {
	attempt := 1
	for _, rd := range rn.rounds {
		if rd.Step != rn.state.Steps || rd.Verdict.Decisive() {
			continue
		}
		if rd.Stats != nil {
			hist.Push(*rd.Stats)
		}
		attempt++
	}
	return attempt
}

func (r *Runner) refused(rn *run, err error) model.Round {
	rn.log.Warn("Parameter not applied", "parameter", rn.state.Current, "error", err)
	return model.Round{
		Index:     len(rn.rounds),
		Step:      rn.state.Steps,
		Attempt:   1,
		Parameter: rn.state.Current,
		Verdict:   model.VerdictInconclusive,
		Note:      "apply: " + err.Error(),
		StartedAt: time.Now().UTC(),
	}
}

// round measures and classifies one window. It returns false, with nothing
// measured, when ctx is cancelled before collection starts.
func (r *Runner) round(ctx context.Context, rn *run, col *Collector, agg *stats.Aggregator,
	hist *convergence.History, tol convergence.Tolerances, attempt int) (model.Round, bool) {
	sc := rn.scenario
	ctx, span := tracer.Start(ctx, "engine.Round", trace.WithAttributes(
		attribute.Int("round", len(rn.rounds)),
		attribute.Int("step", rn.state.Steps),
		attribute.Int("attempt", attempt),
		attribute.Float64("parameter", rn.state.Current),
	))
	defer span.End()

	start := time.Now()
	rd := model.Round{
		Index:     len(rn.rounds),
		Step:      rn.state.Steps,
		Attempt:   attempt,
		Parameter: rn.state.Current,
		StartedAt: start.UTC(),
	}
	r.Metrics.SearchParameter(sc.Name, rd.Parameter)

	if !r.warmup(ctx, col, sc.Warmup) || ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("cancelled", true))
		return model.Round{}, false
	}

	win, err := col.Collect(ctx, sc.Measure.Duration, sc.Measure.Cadence)
	if err != nil {
		rd.Verdict = model.VerdictInconclusive
		rd.Note = "collector: " + err.Error()
		span.RecordError(err)
	} else {
		st := agg.Reduce(&win)
		hist.Push(st)
		rd.Stats = &st
		rd.Flags = flagKinds(win.Flags)
		rd.Verdict = convergence.Classify(hist.Snapshot(), hist.Rounds(), tol)
		if v, ok := tol.KeyValue(&st); ok {
			rd.KeyValue = &v
			rd.Headroom = rd.Verdict == model.VerdictConverged && sc.Target.Headroom(v)
		} else {
			rd.Note = fmt.Sprintf("key metric %s missing from window", tol.KeyMetric)
		}
	}
	rd.Duration = time.Since(start)

	span.SetAttributes(attribute.String("verdict", string(rd.Verdict)), attribute.Bool("headroom", rd.Headroom))
	r.Metrics.ObserveRound(sc.Name, string(rd.Verdict), rd.Duration)
	return rd, true
}

// warmup lets the system settle for d, then drains whatever the
// collaborators buffered so the measured window starts clean. It reports
// false if ctx was cancelled while waiting.
func (r *Runner) warmup(ctx context.Context, col *Collector, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return false
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), col.CallTimeout)
	defer cancel()
	if _, err := col.Workload.ReadMetrics(dctx); err != nil {
		output.Logger.Debug("Warmup drain failed", "source", model.SourceWorkload, "error", err)
	}
	if _, err := col.Agent.ReadState(dctx); err != nil {
		output.Logger.Debug("Warmup drain failed", "source", model.SourceAgent, "error", err)
	}
	return true
}

func (r *Runner) record(rn *run, rd model.Round) {
	rn.rounds = append(rn.rounds, rd)

	attrs := []any{"round", rd.Index, "step", rd.Step, "attempt", rd.Attempt,
		"parameter", rd.Parameter, "verdict", rd.Verdict, "headroom", rd.Headroom}
	if rd.KeyValue != nil {
		attrs = append(attrs, "key_value", *rd.KeyValue)
	}
	if rd.Note != "" {
		attrs = append(attrs, "note", rd.Note)
	}
	rn.log.Info("Round classified", attrs...)

	if r.OnRound != nil {
		r.OnRound(rn.id, rn.scenario.Name, rd)
	}
}

func (r *Runner) checkpoint(rn *run, done bool) {
	if r.Store == nil {
		return
	}
	err := r.Store.Save(checkpoint.Checkpoint{
		RunID:     rn.id,
		Scenario:  rn.scenario,
		Search:    rn.state,
		Rounds:    rn.rounds,
		StartedAt: rn.startedAt,
		Done:      done,
	})
	if err != nil {
		rn.log.Warn("Checkpoint failed", "error", err)
	}
}

func flagKinds(flags []model.DataQualityFlag) []model.FlagKind {
	var out []model.FlagKind
	seen := map[model.FlagKind]bool{}
	for _, f := range flags {
		if !seen[f.Kind] {
			seen[f.Kind] = true
			out = append(out, f.Kind)
		}
	}
	return out
}
