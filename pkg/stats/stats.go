// Package stats collects the reconstruction counters (matching successes and
// failures, synthesized states) keyed by entity domain and metric name.
//
// Counters are monitoring data only. Every Sink merge is commutative and
// associative, so partitions may report in any order.
package stats

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
)

// ErrEmptyKey is returned when a counter key is empty.
var ErrEmptyKey = errors.New("stats: key must not be empty")

// Sink accumulates counter deltas. Implementations must be safe for
// concurrent use.
type Sink interface {
	Add(ctx context.Context, key string, delta int64) error
}

// Key joins an entity domain and a metric name into a counter key.
func Key(domain, metric string) string {
	if domain == "" {
		return metric
	}
	return domain + "." + metric
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (domain, metric string) {
	// Metric names contain dots, so split on a known metric suffix.
	for _, m := range Metrics() {
		if strings.HasSuffix(key, "."+m) {
			return strings.TrimSuffix(key, "."+m), m
		}
		if key == m {
			return "", m
		}
	}
	return "", key
}

// Metric names reported by the reconstruction engine.
const (
	MetricMatched   = "events.matched"
	MetricUnmatched = "events.unmatched"
	MetricExpired   = "states.expired"
	MetricConflict  = "states.conflict"
	MetricUnclosed  = "states.unclosed"
	MetricDuplicate = "states.duplicate"
	MetricUnblock   = "states.unblock"
)

// Metrics lists every metric name the engine reports.
func Metrics() []string {
	return []string{
		MetricMatched, MetricUnmatched,
		MetricExpired, MetricConflict, MetricUnclosed,
		MetricDuplicate, MetricUnblock,
	}
}

// Counts is a plain counter map owned by a single goroutine, typically one
// partition's fold. It is flushed into a Sink once the partition succeeds.
type Counts map[string]int64

// Inc adds delta to the counter of metric in domain.
func (c Counts) Inc(domain, metric string, delta int64) {
	c[Key(domain, metric)] += delta
}

// Merge adds every counter of other into c.
func (c Counts) Merge(other Counts) {
	for k, v := range other {
		c[k] += v
	}
}

// Total sums a metric across all domains.
func (c Counts) Total(metric string) int64 {
	var total int64
	for k, v := range c {
		if _, m := SplitKey(k); m == metric {
			total += v
		}
	}
	return total
}

// Keys returns the counter keys in sorted order.
func (c Counts) Keys() []string {
	return slices.Sorted(maps.Keys(c))
}

// Flush writes every counter into sink. All counters are attempted; the
// joined error reports the ones that failed.
func (c Counts) Flush(ctx context.Context, sink Sink) error {
	if sink == nil {
		return nil
	}
	var errs []error
	for _, k := range c.Keys() {
		if err := sink.Add(ctx, k, c[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi fans counter updates out to several sinks.
type Multi []Sink

// Add implements Sink.
func (m Multi) Add(ctx context.Context, key string, delta int64) error {
	var errs []error
	for _, s := range m {
		if err := s.Add(ctx, key, delta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops every update.
type Discard struct{}

// Add implements Sink.
func (Discard) Add(context.Context, string, int64) error { return nil }
