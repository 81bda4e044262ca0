// Package observability wires OpenTelemetry tracing and metrics for the
// trust pipeline: verification outcomes, install decisions, runtime
// permission checks and guard violations, exported over OTLP.
package observability

import (
	"context"
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

	"github.com/Mindburn-Labs/warden/pkg/audit"
)

const scopeName = "warden.pipeline"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // plaintext OTLP, dev only
}

// DefaultConfig returns local development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		Environment:    "dev",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages the trace and metric providers plus the pipeline's
// instruments. A disabled provider is a safe no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	verifications metric.Int64Counter
	decisions     metric.Int64Counter
	runtimeChecks metric.Int64Counter
	checkDuration metric.Float64Histogram
	violations    metric.Int64Counter
}

// New creates an observability provider and installs it as the global
// OTel provider pair.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: metric provider: %w", err)
	}

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.verifications, err = p.meter.Int64Counter("warden.verifications.total",
		metric.WithDescription("Bundle verifications by terminal gate"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return err
	}

	p.decisions, err = p.meter.Int64Counter("warden.install.decisions.total",
		metric.WithDescription("Install decisions by action and reason code"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	p.runtimeChecks, err = p.meter.Int64Counter("warden.runtime.checks.total",
		metric.WithDescription("Runtime permission checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return err
	}

	p.checkDuration, err = p.meter.Float64Histogram("warden.runtime.check.duration",
		metric.WithDescription("Runtime permission check duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	p.violations, err = p.meter.Int64Counter("warden.violations.total",
		metric.WithDescription("Guard violations by reason code"),
		metric.WithUnit("{violation}"),
	)
	return err
}

// ObserveTrail registers a gauge over the trail's dropped-event counter
// so silent audit loss is visible on dashboards.
func (p *Provider) ObserveTrail(t *audit.Trail) error {
	if p.meter == nil || t == nil {
		return nil
	}
	_, err := p.meter.Int64ObservableGauge("warden.audit.dropped",
		metric.WithDescription("Audit events dropped by the non-blocking trail"),
		metric.WithUnit("{event}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(t.Dropped()))
			return nil
		}),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the pipeline tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// Meter returns the pipeline meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(scopeName)
	}
	return p.meter
}

// StartSpan starts a pipeline span.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordVerification counts a verification ending at the named gate;
// "verified" marks success.
func (p *Provider) RecordVerification(ctx context.Context, gate string) {
	if p.verifications != nil {
		p.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gate)))
	}
}

// RecordDecision counts an install decision.
func (p *Provider) RecordDecision(ctx context.Context, action, code string) {
	if p.decisions != nil {
		p.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("reason_code", code),
		))
	}
}

// RecordRuntimeCheck counts a runtime permission check and its latency.
func (p *Provider) RecordRuntimeCheck(ctx context.Context, code string, permitted bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("reason_code", code),
		attribute.Bool("permitted", permitted),
	)
	if p.runtimeChecks != nil {
		p.runtimeChecks.Add(ctx, 1, attrs)
	}
	if p.checkDuration != nil {
		p.checkDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordViolation counts a guard violation.
func (p *Provider) RecordViolation(ctx context.Context, code string) {
	if p.violations != nil {
		p.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason_code", code)))
	}
}

// TrackOperation opens a span for a pipeline operation and returns a
// finish func that records the error, if any, and ends the span.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
