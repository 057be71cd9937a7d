/*
PURPOSE:
  Result Record Builder. Assembles the immutable BenchmarkResult from a
  run's round history and final search state.

REQUIREMENTS:
  User-specified:
  - Pure assembly; never touches collaborators.
  - Fails only on an empty round history, which is an orchestrator defect.

  Implementation-discovered:
  - A digest of the scenario lets two reports prove they ran the same thing.
  - Rounds are copied so later mutation of the caller's slice cannot leak in.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go (Finalize)
  - Consumes: internal/model, internal/search, internal/config

ERROR HANDLING:
  - ErrEmptyRun.

IMPLEMENTATION RULES:
  - Final verdict precedence: cancelled, then a best value found
    (converged), then the last decisive verdict if it was diverged,
    otherwise inconclusive.

USAGE:
  res, err := result.Build(result.Input{...})

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Bump model.SchemaVersion when field meaning changes.
*/

package result

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/search"
)

// ErrEmptyRun means Build was handed no rounds.
var ErrEmptyRun = errors.New("empty run: no rounds recorded")

// Input is everything the builder needs.
type Input struct {
	RunID      string
	Scenario   config.Scenario
	Search     search.State
	Rounds     []model.Round
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
	Notes      []string
}

// Build assembles the final record.
func Build(in Input) (model.BenchmarkResult, error) {
	if len(in.Rounds) == 0 {
		return model.BenchmarkResult{}, ErrEmptyRun
	}
	digest, err := Digest(in.Scenario)
	if err != nil {
		return model.BenchmarkResult{}, err
	}

	res := model.BenchmarkResult{
		SchemaVersion:  model.SchemaVersion,
		RunID:          in.RunID,
		Scenario:       in.Scenario.Name,
		ScenarioDigest: digest,
		Strategy:       string(in.Search.Kind),
		Knob:           in.Scenario.Knob.Name,
		Rounds:         append([]model.Round(nil), in.Rounds...),
		Steps:          in.Search.Steps,
		Final:          FinalVerdict(in.Rounds, in.Search, in.Cancelled),
		StartedAt:      in.StartedAt,
		FinishedAt:     in.FinishedAt,
		Duration:       in.FinishedAt.Sub(in.StartedAt),
	}
	if in.Search.HasBest {
		best := in.Search.Best
		res.Best = &best
	}
	if in.Search.Done && in.Search.Reason != "" {
		res.Notes = append(res.Notes, "search: "+in.Search.Reason)
	}
	res.Notes = append(res.Notes, in.Notes...)
	return res, nil
}

// FinalVerdict summarizes a run.
func FinalVerdict(rounds []model.Round, st search.State, cancelled bool) model.Verdict {
	if cancelled {
		return model.VerdictCancelled
	}
	if st.HasBest {
		return model.VerdictConverged
	}
	for i := len(rounds) - 1; i >= 0; i-- {
		if rounds[i].Verdict.Decisive() {
			if rounds[i].Verdict == model.VerdictDiverged {
				return model.VerdictDiverged
			}
			break
		}
	}
	return model.VerdictInconclusive
}

// Digest is the hex SHA-256 of the scenario's JSON encoding. Map keys are
// sorted by encoding/json, so equal scenarios hash equally.
func Digest(sc config.Scenario) (string, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("encode scenario %q: %w", sc.Name, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
