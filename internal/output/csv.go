/*
PURPOSE:
  Writes one CSV row per measurement round so spreadsheets and plotting
  tools can chart a search without parsing JSON.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV.

  Implementation-discovered:
  - Rounds are written as they finish; a killed run still leaves its rows.
  - Stats are reduced to the key value; full stats live in the JSON report.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (as an engine round observer)
  - Consumes: internal/model.Round

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Use Mutex; several scenarios may share one writer.

USAGE:
  w, err := output.NewCSVWriter(path)
  w.WriteRound(runID, scenario, round)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update header and record conversion together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update WriteRound() mapping when Round changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// CSVHeader is the column layout of rounds.csv.
var CSVHeader = []string{
	"run_id", "scenario", "round", "step", "attempt", "parameter",
	"key_value", "headroom", "verdict", "samples", "flags",
	"started_at", "duration_s", "note",
}

// CSVWriter handles writing rounds to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter and writes the header.
// The file must not exist.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := createExclusive(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Path is the file being written.
func (cw *CSVWriter) Path() string {
	return cw.file.Name()
}

// WriteRound writes a single round.
// It is thread-safe.
func (cw *CSVWriter) WriteRound(runID, scenario string, r model.Round) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Write(roundRecord(runID, scenario, r)); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

func roundRecord(runID, scenario string, r model.Round) []string {
	keyValue := ""
	if r.KeyValue != nil {
		keyValue = strconv.FormatFloat(*r.KeyValue, 'g', -1, 64)
	}
	samples := 0
	if r.Stats != nil {
		samples = r.Stats.SampleCount
	}
	flags := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		flags[i] = string(f)
	}

	return []string{
		runID,
		scenario,
		strconv.Itoa(r.Index),
		strconv.Itoa(r.Step),
		strconv.Itoa(r.Attempt),
		strconv.FormatFloat(r.Parameter, 'g', -1, 64),
		keyValue,
		strconv.FormatBool(r.Headroom),
		string(r.Verdict),
		strconv.Itoa(samples),
		strings.Join(flags, ";"),
		r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		fmt.Sprintf("%.4f", r.Duration.Seconds()),
		r.Note,
	}
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
