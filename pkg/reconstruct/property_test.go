//go:build property
// +build property

package reconstruct

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
)

// lineageLog decodes ops into the log of a single entity registered at t=1.
// Each op advances time by one to ten seconds and either renames the entity
// to a fresh name, changes its groups or changes its blocks.
func lineageLog(ops []int) ([]history.Event, history.State) {
	name := "N0"
	renames := 0
	t := 1
	events := make([]history.Event, 0, len(ops))
	for _, op := range ops {
		t += op%10 + 1
		switch op % 3 {
		case 0:
			renames++
			next := fmt.Sprintf("N%d", renames)
			events = append(events, rename(t, name, next))
			name = next
		case 1:
			e := event(t, history.EventAlterGroups, name)
			e.Groups = []string{fmt.Sprintf("g%d", op%4)}
			events = append(events, e)
		default:
			e := event(t, history.EventAlterBlocks, name)
			if op%2 == 0 {
				e.Blocks = []string{"edit"}
				e.BlockExpiration = history.TimePtr(at(t + op%7 - 2))
			}
			events = append(events, e)
		}
	}
	return events, snapshot(1, name, 1)
}

// mixedLog decodes ops into events over a small pool of names, which
// produces conflicts, expirations and unmatched events.
func mixedLog(ops []int) ([]history.Event, []history.State) {
	names := []string{"A", "B", "C", "D"}
	events := make([]history.Event, 0, len(ops))
	for i, op := range ops {
		from := names[op%len(names)]
		to := names[(op/4)%len(names)]
		typ := history.EventTypes()[op%len(history.EventTypes())]
		e := event(op%50, typ, from)
		if typ.ChangesIdentity() {
			e.NewKey = key(to)
		}
		e.SourceID = int64(i + 1)
		events = append(events, e)
	}
	states := []history.State{snapshot(1, "A", 3), snapshot(2, "B", 20), snapshot(0, "C", 1)}
	return events, states
}

func TestPropertyConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every event is matched or unmatched exactly once", prop.ForAll(
		func(ops []int) bool {
			events, states := mixedLog(ops)
			res, err := newTestEngine(100).Reconstruct(context.Background(), events, states)
			if err != nil {
				return false
			}
			return res.Matched()+int64(len(res.Unmatched)) == int64(len(events)) &&
				res.Counts.Total(stats.MetricUnmatched) == int64(len(res.Unmatched))
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestPropertyBroadcast(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("entity-wide fields agree across an entity's states", prop.ForAll(
		func(ops []int) bool {
			events, states := mixedLog(ops)
			res, err := newTestEngine(100).Reconstruct(context.Background(), events, states)
			if err != nil {
				return false
			}
			groups := make(map[lineage]history.State)
			for _, s := range res.States {
				first, ok := groups[lineageOf(s)]
				if !ok {
					groups[lineageOf(s)] = s
					continue
				}
				if !slices.Equal(first.Groups, s.Groups) || !slices.Equal(first.Blocks, s.Blocks) {
					return false
				}
				if first.CreatedBySelf != s.CreatedBySelf || first.CreatedBySystem != s.CreatedBySystem || first.CreatedByPeer != s.CreatedByPeer {
					return false
				}
				if (first.Registration == nil) != (s.Registration == nil) {
					return false
				}
				if first.Registration != nil && !first.Registration.Equal(*s.Registration) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestPropertyContiguousLineage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a consistent log yields contiguous intervals", prop.ForAll(
		func(ops []int) bool {
			events, snap := lineageLog(ops)
			res, err := newTestEngine(10000).Reconstruct(context.Background(), events, []history.State{snap})
			if err != nil || len(res.Unmatched) != 0 {
				return false
			}
			for i := 1; i < len(res.States); i++ {
				prev, cur := res.States[i-1], res.States[i]
				if prev.End == nil || cur.Start == nil || !prev.End.Equal(*cur.Start) {
					return false
				}
			}
			return res.States[len(res.States)-1].End == nil
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestPropertyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reconstructing the same partition twice gives the same result", prop.ForAll(
		func(ops []int) bool {
			events, states := mixedLog(ops)
			a, errA := newTestEngine(100).Reconstruct(context.Background(), events, states)
			b, errB := newTestEngine(100).Reconstruct(context.Background(), events, states)
			if errA != nil || errB != nil {
				return false
			}
			return reflect.DeepEqual(a, b)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
