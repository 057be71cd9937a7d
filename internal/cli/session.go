package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/checkpoint"
	"github.com/daryltucker/resctl-bench/internal/collab"
	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/engine"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
	"github.com/daryltucker/resctl-bench/internal/telemetry"
)

const (
	resultsFile = "results.jsonl"
	roundsFile  = "rounds.csv"
)

// loadConfig reads, overrides and validates the configuration and installs
// its logger settings unless flags already did.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := output.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	return cfg, nil
}

// session owns everything a benchmark invocation opens and must close.
type session struct {
	cfg     *config.Config
	runner  *engine.Runner
	store   *checkpoint.Store
	jsonOut *output.JSONWriter
	csvOut  *output.CSVWriter
	metrics *telemetry.Metrics
	server  *http.Server
	closers []func(context.Context) error
}

func openSession(cfg *config.Config) (_ *session, err error) {
	s := &session{cfg: cfg, metrics: telemetry.NewMetrics()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}

	jsonPath, err := output.FreshPath(cfg.OutputDir, resultsFile)
	if err != nil {
		return nil, err
	}
	if s.jsonOut, err = output.NewJSONWriter(jsonPath); err != nil {
		return nil, fmt.Errorf("failed to init JSON writer at %s: %w", jsonPath, err)
	}
	csvPath, err := output.FreshPath(cfg.OutputDir, roundsFile)
	if err != nil {
		return nil, err
	}
	if s.csvOut, err = output.NewCSVWriter(csvPath); err != nil {
		return nil, fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}

	if cfg.CheckpointDir != "" {
		s.store, err = checkpoint.Open(checkpoint.Config{Dir: cfg.CheckpointDir, Logger: output.Logger})
		if err != nil {
			return nil, err
		}
	}

	shutdown, err := telemetry.InitTracing(cfg.TraceExporter, os.Stderr)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, shutdown)

	if cfg.MetricsAddr != "" {
		s.serveMetrics(cfg.MetricsAddr)
	}

	workload, agent := collaborators(cfg)
	s.runner = &engine.Runner{
		Workload: workload,
		Agent:    agent,
		Metrics:  s.metrics,
		OnRound: func(runID, scenario string, r model.Round) {
			if err := s.csvOut.WriteRound(runID, scenario, r); err != nil {
				output.Logger.Error("Failed to write round to CSV", "error", err)
			}
		},
	}
	if s.store != nil {
		s.runner.Store = s.store
	}

	output.Logger.Info("Writing results", "json", s.jsonOut.Path(), "csv", s.csvOut.Path())
	return s, nil
}

func collaborators(cfg *config.Config) (collab.Workload, collab.Agent) {
	var workload collab.Workload
	switch cfg.Workload.Kind {
	case "http":
		workload = collab.NewHTTPWorkload(cfg.Workload.URL, cfg.Workload.Timeout)
	default:
		workload = collab.NewHashd(cfg.Workload.Dir)
	}
	return workload, collab.NewHTTPAgent(cfg.Agent.URL, cfg.Agent.Timeout)
}

func (s *session) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		output.Logger.Info("Serving metrics", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			output.Logger.Error("Metrics server failed", "error", err)
		}
	}()
	s.closers = append(s.closers, s.server.Shutdown)
}

func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			output.Logger.Warn("Shutdown failed", "error", err)
		}
	}
	if s.jsonOut != nil {
		s.jsonOut.Close()
	}
	if s.csvOut != nil {
		s.csvOut.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
