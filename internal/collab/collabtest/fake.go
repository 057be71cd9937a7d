// Package collabtest provides scripted collaborators for engine tests.
//
// A Fake implements both collab.Workload and collab.Agent. Each read returns
// one sample whose value comes from Curve, evaluated at the knob value most
// recently configured. Failures, rejections and clock skew are injected on
// demand and every call is counted.
package collabtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daryltucker/resctl-bench/internal/collab"
	"github.com/daryltucker/resctl-bench/internal/model"
)

// Curve yields the reading for a knob value on the n-th successful read
// (n counts from 0 and restarts whenever the knob changes).
type Curve func(knob float64, n int) float64

// Flat returns a Curve that ignores n.
func Flat(f func(knob float64) float64) Curve {
	return func(knob float64, _ int) float64 { return f(knob) }
}

// Fake is a deterministic collaborator.
type Fake struct {
	src    model.Source
	knob   string
	metric string
	curve  Curve

	mu         sync.Mutex
	value      float64
	n          int
	last       time.Time
	failReads  int
	rejectNext string
	rejectAll  string
	skewNext   bool
	onRead     func(calls int)

	resets     int
	configures []collab.Params
	reads      int
	failed     int
}

// New returns a Fake reporting metric for src, tracking the knob named knob.
func New(src model.Source, knob, metric string, curve Curve) *Fake {
	if curve == nil {
		curve = func(float64, int) float64 { return 0 }
	}
	return &Fake{src: src, knob: knob, metric: metric, curve: curve}
}

// FailReads makes the next n reads fail with collab.ErrUnavailable.
func (f *Fake) FailReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = n
}

// RejectNext makes the next configure call fail with reason.
func (f *Fake) RejectNext(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectNext = reason
}

// RejectAll makes every configure call fail with reason.
func (f *Fake) RejectAll(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectAll = reason
}

// SkewNext makes the next read return a timestamp earlier than the last one.
func (f *Fake) SkewNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skewNext = true
}

// OnRead registers a hook run after every read attempt with the attempt count.
func (f *Fake) OnRead(fn func(calls int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRead = fn
}

// Resets is the number of Reset calls observed.
func (f *Fake) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Configured returns a copy of every accepted parameter set, oldest first.
func (f *Fake) Configured() []collab.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collab.Params(nil), f.configures...)
}

// Reads is the number of read attempts, failed ones included.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// FailedReads is the number of reads that returned an error.
func (f *Fake) FailedReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// Knob is the knob value most recently configured.
func (f *Fake) Knob() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *Fake) configure(ctx context.Context, p collab.Params) error {
	if err := ctx.Err(); err != nil {
		return collab.Unavailable(f.src, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll != "" {
		return collab.Reject(f.src, "%s", f.rejectAll)
	}
	if f.rejectNext != "" {
		reason := f.rejectNext
		f.rejectNext = ""
		return collab.Reject(f.src, "%s", reason)
	}
	if raw, ok := p[f.knob]; ok {
		v, ok := raw.(float64)
		if !ok {
			return collab.Reject(f.src, "%s: want float64, got %T", f.knob, raw)
		}
		if v != f.value {
			f.n = 0
		}
		f.value = v
	}
	f.configures = append(f.configures, p)
	return nil
}

func (f *Fake) read(ctx context.Context) ([]model.MetricSample, error) {
	f.mu.Lock()
	f.reads++
	calls := f.reads
	hook := f.onRead
	samples, err := f.readLocked(ctx)
	f.mu.Unlock()

	if hook != nil {
		hook(calls)
	}
	return samples, err
}

func (f *Fake) readLocked(ctx context.Context) ([]model.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		f.failed++
		return nil, collab.Unavailable(f.src, err)
	}
	if f.failReads > 0 {
		f.failReads--
		f.failed++
		return nil, collab.Unavailable(f.src, fmt.Errorf("scripted failure"))
	}

	ts := time.Now()
	if f.skewNext {
		f.skewNext = false
		ts = f.last.Add(-time.Second)
	} else {
		if !ts.After(f.last) {
			ts = f.last.Add(time.Microsecond)
		}
		f.last = ts
	}

	v := f.curve(f.value, f.n)
	f.n++
	return []model.MetricSample{{Source: f.src, Metric: f.metric, Timestamp: ts, Value: v}}, nil
}

// Reset restores the neutral configuration.
func (f *Fake) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.value = 0
	f.n = 0
	return nil
}

func (f *Fake) Configure(ctx context.Context, p collab.Params) error   { return f.configure(ctx, p) }
func (f *Fake) ApplyLimits(ctx context.Context, p collab.Params) error { return f.configure(ctx, p) }

func (f *Fake) ReadMetrics(ctx context.Context) ([]model.MetricSample, error) { return f.read(ctx) }
func (f *Fake) ReadState(ctx context.Context) ([]model.MetricSample, error)   { return f.read(ctx) }

var (
	_ collab.Workload = (*Fake)(nil)
	_ collab.Agent    = (*Fake)(nil)
)
