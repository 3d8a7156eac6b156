//go:build property
// +build property

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/partition"
)

// reversed runs the union-find partitioner and hands out its partitions in
// reverse order.
type reversed struct{ inner *partition.UnionFind }

func (r reversed) Partition(ctx context.Context, events []history.Event, states []history.State) ([]partition.Partition, error) {
	parts, err := r.inner.Partition(ctx, events, states)
	slices.Reverse(parts)
	return parts, err
}

func randomInput(ops []int) ([]history.Event, []history.State) {
	names := []string{"A", "B", "C", "D", "E", "F"}
	var events []history.Event
	for _, op := range ops {
		from := names[op%len(names)]
		to := names[(op/7)%len(names)]
		if op%2 == 0 {
			events = append(events, rename(op%40, from, to))
		} else {
			events = append(events, alter(op%40, from))
		}
	}
	states := make([]history.State, 0, len(names))
	for i, n := range names[:4] {
		states = append(states, history.NewSnapshot(int64(i+1), key(n), history.TimePtr(at(i))))
	}
	return events, states
}

func multiset(states []history.State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		b, err := json.Marshal(s)
		if err != nil {
			panic(fmt.Sprintf("marshal state: %v", err))
		}
		out = append(out, string(b))
	}
	slices.Sort(out)
	return out
}

func TestPropertyGroupingIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("partition order does not change the output", prop.ForAll(
		func(ops []int, workers int) bool {
			events, states := randomInput(ops)
			ctx := context.Background()

			a, err := NewRunner(partition.NewUnionFind(), newEngine()).WithWorkers(workers).Run(ctx, events, states)
			if err != nil {
				return false
			}
			b, err := NewRunner(reversed{partition.NewUnionFind()}, newEngine()).WithWorkers(1).Run(ctx, events, states)
			if err != nil {
				return false
			}
			return slices.Equal(multiset(a.States), multiset(b.States)) &&
				len(a.Unmatched) == len(b.Unmatched) &&
				a.Report.Matched == b.Report.Matched
		},
		gen.SliceOf(gen.IntRange(0, 500)),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
