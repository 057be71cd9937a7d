/*
PURPOSE:
  Capability interfaces for the two external collaborators the engine
  drives: the workload generator and the resource-control agent.

REQUIREMENTS:
  User-specified:
  - configure / apply_limits answer ok or reject(reason).
  - read_metrics / read_state return samples since the last read.
  - reset() is idempotent and restores a neutral configuration.

  Implementation-discovered:
  - Rejections and unavailability must be distinguishable: rejection at
    setup is fatal, unavailability is retried.

ARCHITECTURE INTEGRATION:
  - Implemented by: hashd.go (file based), http.go (JSON over HTTP),
    collabtest (scripted fakes)
  - Consumed by: internal/engine

ERROR HANDLING:
  - *RejectError for refused configuration.
  - ErrUnavailable (wrapped) for timeouts, I/O and transport failures.

IMPLEMENTATION RULES:
  - Every method takes a context; adapters must honor its deadline.

USAGE:
  var w collab.Workload = collab.NewHashd(dir)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/collector.go

MAINTENANCE:
  - Keep interfaces minimal; new capabilities go into new interfaces.
*/

package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// Params is a free-form parameter set passed to a collaborator.
type Params map[string]any

// With returns a shallow copy with key set to value.
func (p Params) With(key string, value any) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// Resetter restores a neutral configuration. Calling it twice is harmless.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Workload is the synthetic load generator.
type Workload interface {
	Resetter
	Configure(ctx context.Context, p Params) error
	ReadMetrics(ctx context.Context) ([]model.MetricSample, error)
}

// Agent is the resource-control agent.
type Agent interface {
	Resetter
	ApplyLimits(ctx context.Context, p Params) error
	ReadState(ctx context.Context) ([]model.MetricSample, error)
}

// ErrUnavailable means the collaborator did not answer in time or at all.
var ErrUnavailable = errors.New("collaborator unavailable")

// RejectError is returned when a collaborator refuses a configuration.
type RejectError struct {
	Source model.Source
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected configuration: %s", e.Source, e.Reason)
}

// Reject builds a *RejectError.
func Reject(src model.Source, format string, args ...any) error {
	return &RejectError{Source: src, Reason: fmt.Sprintf(format, args...)}
}

// IsReject reports whether err carries a *RejectError.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// Unavailable wraps err with ErrUnavailable.
func Unavailable(src model.Source, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, src, err)
}
