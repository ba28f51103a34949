package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names. Every generation run is one RunSpan with one child per phase.
const (
	RunSpan = "randooprun.run"

	PhaseClasspath = "classpath"
	PhaseDiscover  = "discover"
	PhaseSupervise = "supervise"
)

// Config selects whether and where run spans are exported.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP/HTTP host:port
	Enabled        bool
	SamplingRate   float64
}

// DefaultConfig returns tracing disabled; a CLI run only exports spans
// when asked to.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Endpoint:       "localhost:4318",
		SamplingRate:   1.0,
	}
}

// Provider hands out run and phase spans.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Init builds an OTLP/HTTP exporting provider and installs it globally.
// A disabled config yields Noop.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewProvider(tp, cfg.ServiceName), nil
}

// NewProvider wraps an SDK tracer provider. Shutdown flushes and closes tp.
func NewProvider(tp *sdktrace.TracerProvider, name string) *Provider {
	return &Provider{provider: tp, tracer: tp.Tracer(name)}
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("randooprun")}
}

// Sampler maps a sampling rate onto a parent-respecting sampler. Rates at or
// beyond the ends of [0, 1] sample always or never.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// StartRun opens the root span of one generation run.
func (p *Provider) StartRun(ctx context.Context, runID, pkg string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, RunSpan, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.package", pkg),
	))
}

// StartPhase opens a child span of the run in ctx.
func (p *Provider) StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "randooprun."+phase)
}

// Fail marks the span in ctx as failed. A nil err is ignored.
func Fail(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Annotate adds attributes to the span in ctx.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the trace ID of the span in ctx, or "" for an unsampled
// or no-op span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
