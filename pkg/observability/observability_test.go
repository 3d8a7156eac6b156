package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "timeline", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	_, done := p.TrackTask(context.Background(), "partition", attribute.Int("partition", 1))
	done(errors.New("failed"))
	_, done = p.TrackTask(context.Background(), "partition")
	done(nil)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDisabled(t *testing.T) {
	p := Disabled()
	ctx, done := p.TrackTask(context.Background(), "partition")
	require.NotNil(t, ctx)
	done(nil)
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.config.Enabled)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "partition", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"partition":3`)

	buf.Reset()
	logger, err = NewLogger(&buf, "", "DEBUG")
	require.NoError(t, err)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")

	_, err = NewLogger(&buf, "xml", "info")
	require.Error(t, err)
	_, err = NewLogger(&buf, "text", "loud")
	require.Error(t, err)
}

func TestTrackTaskRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	tasks, err := newTaskMetrics(mp.Meter("test"))
	require.NoError(t, err)
	p := Disabled()
	p.tasks = tasks

	_, done := p.TrackTask(ctx, "reconstruct.partition", attribute.Int("partition", 0))
	done(errors.New("transient"))
	_, done = p.TrackTask(ctx, "reconstruct.partition", attribute.Int("partition", 0))
	done(nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["timeline.tasks.total"])
	assert.Equal(t, int64(1), sums["timeline.errors.total"])
	assert.Equal(t, int64(0), sums["timeline.tasks.active"])
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
