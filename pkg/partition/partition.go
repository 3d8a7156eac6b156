// Package partition splits events and snapshots into identity-disjoint
// components that can be reconstructed independently.
//
// Two records land in the same partition when they are connected through
// identity keys: an event links its old and new keys, a snapshot links its
// historical and current keys, and snapshots sharing a non-zero entity id
// are linked to each other.
package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// ErrContractViolation is returned when a set of partitions is not closed
// under identity links or does not cover its input exactly.
var ErrContractViolation = errors.New("partition: contract violation")

// Partition is one connected component.
type Partition struct {
	Events []history.Event
	States []history.State
}

// Size returns the number of records in the partition.
func (p Partition) Size() int {
	return len(p.Events) + len(p.States)
}

// UnionFind partitions records with a disjoint-set forest over identity
// keys. It is stateless between calls and safe for concurrent use.
type UnionFind struct{}

// NewUnionFind creates a UnionFind partitioner.
func NewUnionFind() *UnionFind {
	return &UnionFind{}
}

// Partition groups events and states into connected components. Partitions
// are ordered by their first record, events before states, and keep the
// input order of their records.
func (u *UnionFind) Partition(ctx context.Context, events []history.Event, states []history.State) ([]Partition, error) {
	f := newForest()
	for _, e := range events {
		keys := e.Keys()
		for _, k := range keys[1:] {
			f.union(keys[0], k)
		}
		f.find(keys[0])
	}

	entities := make(map[int64]history.Key)
	for _, s := range states {
		f.union(s.Key, s.CurrentKey)
		if s.EntityID == 0 {
			continue
		}
		if first, ok := entities[s.EntityID]; ok {
			f.union(first, s.Key)
		} else {
			entities[s.EntityID] = s.Key
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	index := make(map[int]int)
	var parts []Partition
	slot := func(k history.Key) int {
		root := f.find(k)
		i, ok := index[root]
		if !ok {
			i = len(parts)
			index[root] = i
			parts = append(parts, Partition{})
		}
		return i
	}
	for _, e := range events {
		i := slot(e.Keys()[0])
		parts[i].Events = append(parts[i].Events, e)
	}
	for _, s := range states {
		i := slot(s.Key)
		parts[i].States = append(parts[i].States, s)
	}
	return parts, nil
}

// Validate checks that parts is a closed, exhaustive partition of an input
// of wantEvents events and wantStates states: no identity key and no entity
// id appears in two partitions, and every record appears exactly once.
func Validate(parts []Partition, wantEvents, wantStates int) error {
	owner := make(map[history.Key]int)
	entityOwner := make(map[int64]int)
	claim := func(k history.Key, i int) error {
		if prev, ok := owner[k]; ok && prev != i {
			return fmt.Errorf("%w: key %s in partitions %d and %d", ErrContractViolation, k, prev, i)
		}
		owner[k] = i
		return nil
	}

	var events, states int
	for i, p := range parts {
		events += len(p.Events)
		states += len(p.States)
		for _, e := range p.Events {
			for _, k := range e.Keys() {
				if err := claim(k, i); err != nil {
					return err
				}
			}
		}
		for _, s := range p.States {
			if err := claim(s.Key, i); err != nil {
				return err
			}
			if err := claim(s.CurrentKey, i); err != nil {
				return err
			}
			if s.EntityID == 0 {
				continue
			}
			if prev, ok := entityOwner[s.EntityID]; ok && prev != i {
				return fmt.Errorf("%w: entity %d in partitions %d and %d", ErrContractViolation, s.EntityID, prev, i)
			}
			entityOwner[s.EntityID] = i
		}
	}

	if events != wantEvents || states != wantStates {
		return fmt.Errorf("%w: partitions hold %d events and %d states, input has %d and %d",
			ErrContractViolation, events, states, wantEvents, wantStates)
	}
	return nil
}

// forest is a disjoint-set forest with path halving and union by size.
type forest struct {
	ids    map[history.Key]int
	parent []int
	size   []int
}

func newForest() *forest {
	return &forest{ids: make(map[history.Key]int)}
}

func (f *forest) id(k history.Key) int {
	if i, ok := f.ids[k]; ok {
		return i
	}
	i := len(f.parent)
	f.ids[k] = i
	f.parent = append(f.parent, i)
	f.size = append(f.size, 1)
	return i
}

func (f *forest) find(k history.Key) int {
	i := f.id(k)
	for f.parent[i] != i {
		f.parent[i] = f.parent[f.parent[i]]
		i = f.parent[i]
	}
	return i
}

func (f *forest) union(a, b history.Key) {
	ra, rb := f.find(a), f.find(b)
	if ra == rb {
		return
	}
	if f.size[ra] < f.size[rb] {
		ra, rb = rb, ra
	}
	f.parent[rb] = ra
	f.size[ra] += f.size[rb]
}
