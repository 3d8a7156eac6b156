package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/timeline/pkg/botname"
	"github.com/Mindburn-Labs/timeline/pkg/config"
	"github.com/Mindburn-Labs/timeline/pkg/observability"
	"github.com/Mindburn-Labs/timeline/pkg/partition"
	"github.com/Mindburn-Labs/timeline/pkg/pipeline"
	"github.com/Mindburn-Labs/timeline/pkg/reconstruct"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
	"github.com/Mindburn-Labs/timeline/pkg/store"
)

// rebuildReport is the run report printed on stdout.
type rebuildReport struct {
	pipeline.Report
	InvalidStates int             `json:"invalid_states"`
	Output        string          `json:"output"`
	Archives      []store.Archive `json:"archives,omitempty"`
}

// runRebuildCmd implements `timeline rebuild`.
//
// Exit codes:
//
//	0 = history rebuilt and written
//	1 = reconstruction failed
//	2 = usage or runtime error
func runRebuildCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsPath string
		statesPath string
		configPath string
		out        string
		workers    int
	)
	cmd.StringVar(&eventsPath, "events", "", "Path to the events JSONL file (REQUIRED)")
	cmd.StringVar(&statesPath, "states", "", "Path to the states JSONL file (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.StringVar(&out, "out", "", "Output database URL, .db file or JSONL directory")
	cmd.IntVar(&workers, "workers", 0, "Partitions reconstructed concurrently (default from config)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsPath == "" || statesPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events and --states are required")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	applyOut(cfg, out)

	logger, err := observability.NewLogger(stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observability.New(ctx, &cfg.Observability)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	in, err := readInputs(ctx, eventsPath, statesPath)
	if err != nil {
		logger.Error("read inputs failed", "error", err)
		return 2
	}
	for _, bad := range in.stateErrors {
		logger.Warn("skipping invalid state record", "file", statesPath, "error", bad)
	}

	classifier, err := botname.New(cfg.BotName)
	if err != nil {
		logger.Error("bot name classifier init failed", "error", err)
		return 2
	}

	sinks, closeSinks, err := buildSinks(cfg, provider)
	if err != nil {
		logger.Error("statistics sink init failed", "error", err)
		return 2
	}
	defer closeSinks()

	runner := pipeline.NewRunner(partition.NewUnionFind(), reconstruct.NewEngine(classifier)).
		WithWorkers(cfg.Workers).
		WithRetryPolicy(cfg.Retry).
		WithSink(sinks).
		WithTracker(provider)

	result, err := runner.Run(ctx, in.events, in.states)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: rebuild failed: %v\n", err)
		return 1
	}

	output, err := openSink(ctx, cfg, result.Report.RunID)
	if err != nil {
		logger.Error("open output failed", "error", err)
		return 2
	}
	writeErr := store.Write(ctx, output.writer, result.States, result.Unmatched)
	if err := output.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		logger.Error("write output failed", "error", writeErr)
		return 2
	}

	report := rebuildReport{
		Report:        result.Report,
		InvalidStates: len(in.stateErrors),
		Output:        output.location,
	}
	if output.archive != nil {
		report.Archives = output.archive.Archives()
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("print report failed", "error", err)
		return 2
	}
	return 0
}

// buildSinks sends statistics to the OpenTelemetry meter and, when
// configured, to Redis.
func buildSinks(cfg *config.Config, provider *observability.Provider) (stats.Sink, func(), error) {
	otelSink, err := stats.NewOTelSink(provider.Meter())
	if err != nil {
		return nil, nil, err
	}
	sinks := stats.Multi{otelSink}

	closeFn := func() {}
	if cfg.Redis.Addr != "" {
		redisSink := stats.NewRedisSink(cfg.Redis)
		sinks = append(sinks, redisSink)
		closeFn = func() { _ = redisSink.Close() }
	}
	return sinks, closeFn, nil
}
