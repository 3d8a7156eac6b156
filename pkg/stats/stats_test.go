package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestKeyRoundTrip(t *testing.T) {
	key := Key("en.wiki", MetricUnmatched)
	assert.Equal(t, "en.wiki.events.unmatched", key)

	domain, m := SplitKey(key)
	assert.Equal(t, "en.wiki", domain)
	assert.Equal(t, MetricUnmatched, m)

	domain, m = SplitKey(MetricMatched)
	assert.Equal(t, "", domain)
	assert.Equal(t, MetricMatched, m)
}

func TestCounts_MergeAndTotal(t *testing.T) {
	a := Counts{}
	a.Inc("enwiki", MetricMatched, 2)
	a.Inc("dewiki", MetricMatched, 3)

	b := Counts{}
	b.Inc("enwiki", MetricMatched, 1)
	b.Inc("enwiki", MetricUnmatched, 4)

	a.Merge(b)
	assert.Equal(t, int64(6), a.Total(MetricMatched))
	assert.Equal(t, int64(4), a.Total(MetricUnmatched))
	assert.Equal(t, []string{"dewiki.events.matched", "enwiki.events.matched", "enwiki.events.unmatched"}, a.Keys())
}

func TestAccumulator_Concurrent(t *testing.T) {
	acc := NewAccumulator()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = acc.Add(ctx, "k", 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), acc.Get("k"))
	require.ErrorIs(t, acc.Add(ctx, "", 1), ErrEmptyKey)
}

type failingSink struct{}

func (failingSink) Add(context.Context, string, int64) error { return errors.New("boom") }

func TestMultiAndFlush(t *testing.T) {
	acc := NewAccumulator()
	counts := Counts{"enwiki.events.matched": 7}

	require.NoError(t, counts.Flush(context.Background(), Multi{acc, Discard{}}))
	assert.Equal(t, int64(7), acc.Get("enwiki.events.matched"))

	err := counts.Flush(context.Background(), Multi{acc, failingSink{}})
	require.Error(t, err)
	// The healthy sink still received the update.
	assert.Equal(t, int64(14), acc.Get("enwiki.events.matched"))

	require.NoError(t, counts.Flush(context.Background(), nil))
}

func TestOTelSink(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	sink, err := NewOTelSink(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Add(ctx, Key("enwiki", MetricMatched), 3))
	require.NoError(t, sink.Add(ctx, Key("enwiki", MetricMatched), 2))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)

	domain, found := sum.DataPoints[0].Attributes.Value("domain")
	require.True(t, found)
	assert.Equal(t, "enwiki", domain.AsString())
}

func TestRedisSink_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	sink := NewRedisSinkFromClient(client, "")
	defer func() { _ = sink.Close() }()

	err := sink.Add(context.Background(), "enwiki.events.matched", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis hincrby")
	require.ErrorIs(t, sink.Add(context.Background(), "", 1), ErrEmptyKey)
}
