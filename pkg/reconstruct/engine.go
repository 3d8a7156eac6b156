// Package reconstruct rebuilds the validity intervals of entities from one
// partition of lifecycle events and snapshots.
//
// The engine runs in two phases:
//   - a matching fold over the events, most recent first, that follows
//     identity changes backwards and attaches each event to the state it
//     opened;
//   - propagation passes over each entity's states in time order that fill
//     in attributes only known from the full history and synthesize the
//     states implied by block expirations.
//
// Reconstruct is a pure function of its inputs and the engine clock, so a
// failed partition can be recomputed safely.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
)

var (
	// ErrParseErrorInput is returned when an event carrying parse errors
	// reaches the engine. Callers must filter those out first.
	ErrParseErrorInput = errors.New("reconstruct: event with parsing errors")
	// ErrInvalidEventType is returned for events without a known type.
	ErrInvalidEventType = errors.New("reconstruct: invalid event type")
)

// Classifier decides whether a name looks like a bot account.
type Classifier interface {
	IsBotByName(name string) bool
}

// Result is the output of one partition.
type Result struct {
	States    []history.State
	Unmatched []history.Event
	// Counts holds the partition's statistics, keyed by stats.Key.
	Counts stats.Counts
}

// Matched returns the number of events joined to a state.
func (r *Result) Matched() int64 {
	return r.Counts.Total(stats.MetricMatched)
}

// Engine reconstructs entity histories.
type Engine struct {
	classifier Classifier
	clock      func() time.Time
	logger     *slog.Logger
}

// NewEngine creates an engine. A nil classifier flags no names as bots.
func NewEngine(classifier Classifier) *Engine {
	return &Engine{
		classifier: classifier,
		clock:      time.Now,
		logger:     slog.Default().With("component", "reconstruct"),
	}
}

// WithClock overrides the processing time used to decide which block
// expirations are already in the past.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger overrides the engine logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// Reconstruct matches the events of one partition against its snapshots
// and returns the resulting states and the events that matched nothing.
func (e *Engine) Reconstruct(ctx context.Context, events []history.Event, states []history.State) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, ev := range events {
		if ev.HasParsingErrors() {
			return nil, fmt.Errorf("%w: event %d (%s at %s)", ErrParseErrorInput, i, ev.Type, ev.Timestamp.Format(time.RFC3339))
		}
		if !ev.Type.Valid() {
			return nil, fmt.Errorf("%w: event %d has type %d", ErrInvalidEventType, i, ev.Type)
		}
	}

	st := newStatus(states)
	for _, ev := range sortEventsDescending(events) {
		st.process(ev)
	}
	closed := st.finish()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := e.propagate(closed)
	for _, s := range out {
		if s.InferredFrom == history.InferredUnblock {
			st.counts.Inc(s.Key.Domain, stats.MetricUnblock, 1)
		}
	}

	e.logger.DebugContext(ctx, "partition reconstructed",
		"events", len(events),
		"snapshots", len(states),
		"states", len(out),
		"unmatched", len(st.unmatched),
	)

	return &Result{
		States:    out,
		Unmatched: st.unmatched,
		Counts:    st.counts,
	}, nil
}

// sortEventsDescending orders events most recent first. Inputs are read in
// log order, so events with equal timestamps keep reverse input order.
func sortEventsDescending(events []history.Event) []history.Event {
	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		if c := events[b].Timestamp.Compare(events[a].Timestamp); c != 0 {
			return c
		}
		return b - a
	})
	sorted := make([]history.Event, len(events))
	for i, j := range idx {
		sorted[i] = events[j]
	}
	return sorted
}

// lineage identifies the states of one entity. Entity id 0 is shared by
// every anonymous entity, so those fall back to the key they have today.
type lineage struct {
	id      int64
	current history.Key
}

func lineageOf(s history.State) lineage {
	if s.EntityID != 0 {
		return lineage{id: s.EntityID}
	}
	return lineage{current: s.CurrentKey}
}

// propagate groups states by entity, orders each group by start and runs
// the propagation passes.
func (e *Engine) propagate(states []history.State) []history.State {
	groups := make(map[lineage][]history.State)
	order := make([]lineage, 0)
	for _, s := range states {
		l := lineageOf(s)
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], s)
	}

	now := e.clock()
	out := make([]history.State, 0, len(states))
	for _, l := range order {
		group := groups[l]
		slices.SortStableFunc(group, compareStart)
		out = append(out, e.propagateEntity(group, now)...)
	}
	return out
}

func compareStart(a, b history.State) int {
	switch {
	case a.StartsBefore(b):
		return -1
	case b.StartsBefore(a):
		return 1
	}
	return 0
}

// propagateEntity runs the passes over one entity's states, sorted by start.
// Blocks run first because they may add states.
func (e *Engine) propagateEntity(states []history.State, now time.Time) []history.State {
	states = propagateBlocks(states, now)
	states = propagateGroups(states)
	states = propagateRegistration(states)
	return e.deriveFlags(states)
}
