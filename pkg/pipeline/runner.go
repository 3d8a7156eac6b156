// Package pipeline runs a full reconstruction: it partitions the input into
// identity-disjoint components, reconstructs them in parallel and
// concatenates the results.
//
// Partition tasks are pure functions of their inputs, so a failed task is
// simply run again. Statistics of a task reach the sink only once the task
// has succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/observability"
	"github.com/Mindburn-Labs/timeline/pkg/partition"
	"github.com/Mindburn-Labs/timeline/pkg/reconstruct"
	"github.com/Mindburn-Labs/timeline/pkg/retry"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
)

// ErrPartitionFailed is returned when a partition still fails after all
// retry attempts.
var ErrPartitionFailed = errors.New("pipeline: partition failed")

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 4

// Partitioner splits the input into identity-disjoint partitions.
type Partitioner interface {
	Partition(ctx context.Context, events []history.Event, states []history.State) ([]partition.Partition, error)
}

// Reconstructor rebuilds the history of one partition.
type Reconstructor interface {
	Reconstruct(ctx context.Context, events []history.Event, states []history.State) (*reconstruct.Result, error)
}

// Tracker wraps a unit of work in a span and task metrics.
type Tracker interface {
	TrackTask(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Output is the result of a run.
type Output struct {
	States    []history.State `json:"states"`
	Unmatched []history.Event `json:"unmatched"`
	// ParseErrors are the input events that carried parsing errors. They
	// never reach the engine.
	ParseErrors []history.Event `json:"parse_errors"`
	Report      Report          `json:"report"`
}

// Report summarizes a run.
type Report struct {
	RunID       string                    `json:"run_id"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	DurationMs  int64                     `json:"duration_ms"`
	Workers     int                       `json:"workers"`
	Partitions  int                       `json:"partitions"`
	Events      int                       `json:"events"`
	Snapshots   int                       `json:"snapshots"`
	States      int                       `json:"states"`
	Matched     int64                     `json:"matched"`
	Unmatched   int                       `json:"unmatched"`
	ParseErrors int                       `json:"parse_errors"`
	Synthesized map[history.Inference]int `json:"synthesized"`
	Retries     int64                     `json:"retries"`
	Counts      stats.Counts              `json:"counts"`
}

// Runner orchestrates a reconstruction run.
type Runner struct {
	partitioner Partitioner
	engine      Reconstructor
	sink        stats.Sink
	tracker     Tracker
	workers     int
	policy      retry.BackoffPolicy
	sleep       retry.SleepFunc
	clock       func() time.Time
	newID       func() string
	logger      *slog.Logger
}

// NewRunner creates a runner with DefaultWorkers workers, the default retry
// policy and no statistics sink.
func NewRunner(partitioner Partitioner, engine Reconstructor) *Runner {
	return &Runner{
		partitioner: partitioner,
		engine:      engine,
		sink:        stats.Discard{},
		tracker:     observability.Disabled(),
		workers:     DefaultWorkers,
		policy:      retry.DefaultPolicy(),
		sleep:       retry.Sleep,
		clock:       time.Now,
		newID:       uuid.NewString,
		logger:      slog.Default().With("component", "pipeline"),
	}
}

// WithWorkers sets the number of partitions reconstructed concurrently.
func (r *Runner) WithWorkers(n int) *Runner {
	if n < 1 {
		n = 1
	}
	r.workers = n
	return r
}

// WithRetryPolicy sets the retry policy of partition tasks.
func (r *Runner) WithRetryPolicy(policy retry.BackoffPolicy) *Runner {
	r.policy = policy
	return r
}

// WithSleep overrides how the runner waits between attempts.
func (r *Runner) WithSleep(sleep retry.SleepFunc) *Runner {
	r.sleep = sleep
	return r
}

// WithSink sets the statistics sink.
func (r *Runner) WithSink(sink stats.Sink) *Runner {
	r.sink = sink
	return r
}

// WithTracker sets the task tracker.
func (r *Runner) WithTracker(tracker Tracker) *Runner {
	r.tracker = tracker
	return r
}

// WithClock overrides the clock for testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithLogger overrides the runner logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Run reconstructs the full history of events and states.
func (r *Runner) Run(ctx context.Context, events []history.Event, states []history.State) (*Output, error) {
	report := Report{
		RunID:     r.newID(),
		StartedAt: r.clock(),
		Workers:   r.workers,
		Events:    len(events),
		Snapshots: len(states),
	}
	logger := r.logger.With("run_id", report.RunID)

	valid, parseErrors := splitParseErrors(events)
	report.ParseErrors = len(parseErrors)
	if len(parseErrors) > 0 {
		logger.WarnContext(ctx, "skipping events with parsing errors", "count", len(parseErrors))
	}

	parts, err := r.partitioner.Partition(ctx, valid, states)
	if err != nil {
		return nil, fmt.Errorf("partition input: %w", err)
	}
	if err := partition.Validate(parts, len(valid), len(states)); err != nil {
		return nil, err
	}
	report.Partitions = len(parts)
	logger.InfoContext(ctx, "run started",
		"events", len(valid),
		"snapshots", len(states),
		"partitions", len(parts),
		"workers", r.workers,
	)

	results, retries, err := r.runPartitions(ctx, report.RunID, parts)
	report.Retries = retries
	if err != nil {
		logger.ErrorContext(ctx, "run failed", "error", err)
		return nil, err
	}

	out := &Output{ParseErrors: parseErrors}
	counts := make(stats.Counts)
	for _, res := range results {
		out.States = append(out.States, res.States...)
		out.Unmatched = append(out.Unmatched, res.Unmatched...)
		counts.Merge(res.Counts)
	}

	report.Counts = counts
	report.States = len(out.States)
	report.Matched = counts.Total(stats.MetricMatched)
	report.Unmatched = len(out.Unmatched)
	report.Synthesized = make(map[history.Inference]int)
	for _, s := range out.States {
		if s.Synthesized() {
			report.Synthesized[s.InferredFrom]++
		}
	}
	report.CompletedAt = r.clock()
	report.DurationMs = report.CompletedAt.Sub(report.StartedAt).Milliseconds()
	out.Report = report

	logger.InfoContext(ctx, "run completed",
		"states", report.States,
		"matched", report.Matched,
		"unmatched", report.Unmatched,
		"retries", report.Retries,
		"duration_ms", report.DurationMs,
	)
	return out, nil
}

// runPartitions reconstructs every partition on a bounded pool. The first
// partition to exhaust its retries cancels the others.
func (r *Runner) runPartitions(ctx context.Context, runID string, parts []partition.Partition) ([]*reconstruct.Result, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*reconstruct.Result, len(parts))
	sem := make(chan struct{}, r.workers)
	var (
		wg       sync.WaitGroup
		retries  atomic.Int64
		failOnce sync.Once
		failErr  error
	)

	for i := range parts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			res, attempts, err := r.runPartition(ctx, runID, idx, parts[idx])
			retries.Add(int64(attempts - 1))
			if err != nil {
				failOnce.Do(func() {
					failErr = fmt.Errorf("%w: partition %d: %w", ErrPartitionFailed, idx, err)
					cancel()
				})
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()

	if failErr != nil {
		return nil, retries.Load(), failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, retries.Load(), err
	}
	return results, retries.Load(), nil
}

// runPartition runs one partition task with retries and flushes its
// statistics once it succeeded. It returns the number of attempts made.
func (r *Runner) runPartition(ctx context.Context, runID string, idx int, p partition.Partition) (*reconstruct.Result, int, error) {
	var (
		res      *reconstruct.Result
		attempts int
	)
	params := retry.BackoffParams{Scope: runID, Task: fmt.Sprintf("partition-%d", idx)}
	err := retry.Do(ctx, params, r.policy, r.sleep, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		taskCtx, done := r.tracker.TrackTask(ctx, "reconstruct.partition",
			attribute.String("run_id", runID),
			attribute.Int("partition", idx),
			attribute.Int("attempt", attempt),
			attribute.Int("events", len(p.Events)),
			attribute.Int("states", len(p.States)),
		)
		out, err := r.reconstruct(taskCtx, p)
		done(err)
		if err != nil {
			if errors.Is(err, reconstruct.ErrParseErrorInput) || errors.Is(err, reconstruct.ErrInvalidEventType) {
				return retry.Permanent(err)
			}
			r.logger.WarnContext(ctx, "partition attempt failed",
				"run_id", runID, "partition", idx, "attempt", attempt, "error", err)
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}

	if err := res.Counts.Flush(ctx, r.sink); err != nil {
		r.logger.WarnContext(ctx, "statistics sink failed", "run_id", runID, "partition", idx, "error", err)
	}
	return res, attempts, nil
}

// reconstruct calls the engine, turning a panic into an error so the task
// can be retried.
func (r *Runner) reconstruct(ctx context.Context, p partition.Partition) (res *reconstruct.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return r.engine.Reconstruct(ctx, p.Events, p.States)
}

func splitParseErrors(events []history.Event) (valid, invalid []history.Event) {
	valid = make([]history.Event, 0, len(events))
	for _, e := range events {
		if e.HasParsingErrors() {
			invalid = append(invalid, e)
			continue
		}
		valid = append(valid, e)
	}
	return valid, invalid
}
