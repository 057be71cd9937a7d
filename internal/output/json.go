/*
PURPOSE:
  Writes benchmark results to a JSON Lines file (NDJSON), one
  BenchmarkResult per line, and reads them back for `resctl-bench show`.

REQUIREMENTS:
  User-specified:
  - Durable, versioned report format for external rendering.

  Implementation-discovered:
  - JSON Lines is append-friendly; several scenarios share one file.
  - A partial trailing line after a crash must not hide earlier results.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Consumes: internal/model.BenchmarkResult

ERROR HANDLING:
  - Returns error on file creation or write failure.
  - ReadResults reports the line number of the first undecodable record.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe.
  - Never overwrite: the writer creates its file exclusively.

USAGE:
  w, err := output.NewJSONWriter(path)
  w.Write(result)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - None specific.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Bump model.SchemaVersion when record meaning changes.
*/

package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/daryltucker/resctl-bench/internal/model"
)

// JSONWriter handles writing results to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSONWriter. The file must not exist.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := createExclusive(path)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Path is the file being written.
func (jw *JSONWriter) Path() string {
	return jw.file.Name()
}

// Write writes a single result as a JSON line.
func (jw *JSONWriter) Write(r *model.BenchmarkResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(r); err != nil {
		return err
	}
	return jw.file.Sync()
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}

// ReadResults decodes every result in a JSON Lines stream.
func ReadResults(r io.Reader) ([]model.BenchmarkResult, error) {
	var out []model.BenchmarkResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var res model.BenchmarkResult
		if err := json.Unmarshal(sc.Bytes(), &res); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, res)
	}
	return out, sc.Err()
}
