// Package checkpoint persists in-flight runs so an interrupted search can be
// resumed from its last completed round.
//
// Each run is one badger key, "run/<run-id>", holding the JSON-encoded
// Checkpoint. Search strategies are pure functions of search.State, so the
// saved state plus the round history is enough to continue.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/search"
)

const keyPrefix = "run/"

var (
	// ErrNotFound is returned by Load for unknown run ids.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrFinished is returned when resuming a run that already completed.
	ErrFinished = errors.New("run already finished")
)

// Checkpoint is the resumable state of one run.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Scenario  config.Scenario `json:"scenario"`
	Search    search.State    `json:"search"`
	Rounds    []model.Round   `json:"rounds"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Done      bool            `json:"done"`
}

// Config holds configuration for the checkpoint database.
type Config struct {
	// Dir is the badger directory. Ignored when InMemory is true.
	Dir string
	// InMemory keeps everything in RAM; for tests.
	InMemory bool
	// Logger receives badger's own messages. Nil silences them.
	Logger *slog.Logger
}

// Store is a badger-backed checkpoint store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) the checkpoint database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes cp, replacing any earlier checkpoint of the same run.
func (s *Store) Save(cp Checkpoint) error {
	if cp.RunID == "" {
		return errors.New("checkpoint without run id")
	}
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.RunID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+cp.RunID), data)
	})
}

// Load reads the checkpoint of runID.
func (s *Store) Load(runID string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	return cp, err
}

// List returns every checkpoint, most recently updated first.
func (s *Store) List() ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, cp)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, err
}

// Delete removes a run's checkpoint. Deleting an unknown run is not an error.
func (s *Store) Delete(runID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + runID))
	})
}
