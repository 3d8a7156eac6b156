package stats

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink forwards counters to an OpenTelemetry Int64Counter, splitting the
// key into "domain" and "metric" attributes.
type OTelSink struct {
	counter metric.Int64Counter
}

// NewOTelSink registers the reconstruction counter on meter.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	counter, err := meter.Int64Counter("timeline.reconstruction.events",
		metric.WithDescription("Reconstruction counters by entity domain and metric"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("stats: create otel counter: %w", err)
	}
	return &OTelSink{counter: counter}, nil
}

// Add implements Sink.
func (s *OTelSink) Add(ctx context.Context, key string, delta int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	domain, m := SplitKey(key)
	s.counter.Add(ctx, delta, metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("metric", m),
	))
	return nil
}
