// Package observability provides OpenTelemetry tracing and metrics for
// reconstruction runs, plus slog setup for the CLI.
//
// Telemetry is off unless an OTLP endpoint is configured; a disabled
// Provider hands out the global no-op tracer and meter.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "timeline"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"` // e.g. "localhost:4317"
	SampleRate     float64       `yaml:"sample_rate"`   // 0.0 to 1.0
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MetricInterval time.Duration `yaml:"metric_interval"`
	Enabled        bool          `yaml:"enabled"`
	Insecure       bool          `yaml:"insecure"`
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "timeline",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Insecure:       true,
	}
}

// Provider owns the trace and metric pipelines of one process.
type Provider struct {
	config  *Config
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer
	meter   metric.Meter
	tasks   *taskMetrics
	logger  *slog.Logger
}

// New creates a provider. With Enabled false no exporter is created.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if p.traces, err = newTracerProvider(ctx, config, res); err != nil {
		return nil, err
	}
	if p.metrics, err = newMeterProvider(ctx, config, res); err != nil {
		_ = p.traces.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.traces.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.metrics.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if p.tasks, err = newTaskMetrics(p.meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("observability: task metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// Disabled returns a provider that exports nothing.
func Disabled() *Provider {
	return &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
	}
}

func newTracerProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
		sdktrace.WithSampler(sampler(config.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	interval := config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// taskMetrics are the instruments TrackTask records into.
type taskMetrics struct {
	started  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newTaskMetrics(meter metric.Meter) (*taskMetrics, error) {
	var (
		m    taskMetrics
		err  error
		errs []error
	)
	m.started, err = meter.Int64Counter("timeline.tasks.total",
		metric.WithDescription("Partition tasks started"),
		metric.WithUnit("{task}"))
	errs = append(errs, err)
	m.failed, err = meter.Int64Counter("timeline.errors.total",
		metric.WithDescription("Partition tasks that failed"),
		metric.WithUnit("{error}"))
	errs = append(errs, err)
	m.duration, err = meter.Float64Histogram("timeline.task.duration",
		metric.WithDescription("Partition task duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120))
	errs = append(errs, err)
	m.active, err = meter.Int64UpDownCounter("timeline.tasks.active",
		metric.WithDescription("Partition tasks currently running"),
		metric.WithUnit("{task}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// TrackTask starts a span for a unit of work and records its count,
// duration and failure. Call the returned function when the work ends.
func (p *Provider) TrackTask(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	set := metric.WithAttributes(attrs...)
	if p.tasks != nil {
		p.tasks.active.Add(ctx, 1, set)
		p.tasks.started.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
		}
		if p.tasks == nil {
			return
		}
		p.tasks.active.Add(ctx, -1, set)
		p.tasks.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			failed := append(attrs[:len(attrs):len(attrs)], attribute.String("error.type", fmt.Sprintf("%T", err)))
			p.tasks.failed.Add(ctx, 1, metric.WithAttributes(failed...))
		}
	}
}
