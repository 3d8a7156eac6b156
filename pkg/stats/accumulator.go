package stats

import (
	"context"
	"maps"
	"sync"
)

// Accumulator is an in-memory Sink.
type Accumulator struct {
	mu     sync.Mutex
	counts Counts
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{counts: make(Counts)}
}

// Add implements Sink.
func (a *Accumulator) Add(_ context.Context, key string, delta int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[key] += delta
	return nil
}

// Get returns the current value of a counter.
func (a *Accumulator) Get(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key]
}

// Snapshot returns a copy of every counter.
func (a *Accumulator) Snapshot() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.counts)
}
