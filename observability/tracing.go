package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts a span for one pipeline stage and returns a context
// carrying it plus a function to end it. It exists as its own small
// interface so MetricsReporter can wrap any tracer implementation,
// including a no-op one in tests.
type Tracer interface {
	StartSpan(ctx context.Context, stage string) (context.Context, func())
}

// TracerConfig configures the OpenTelemetry tracer provider.
type TracerConfig struct {
	ServiceName   string
	SamplingRatio float64 // 1.0 traces everything, 0.0 traces nothing
}

// DefaultTracerConfig returns sane defaults: trace everything under the
// service name "correlate".
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{ServiceName: "correlate", SamplingRatio: 1.0}
}

// OtelTracer wraps an OpenTelemetry TracerProvider, tagging every span's
// baggage with the run id so downstream spans (and any external collector)
// can correlate by run, the same role the teacher's correlation_id/
// operation_id baggage keys played for HTTP request tracing.
type OtelTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOtelTracer builds a tracer provider. No exporter is wired by default:
// spans are sampled and recorded in-process, which is sufficient for
// baggage propagation and for a future exporter to be attached without
// changing any call site.
func NewOtelTracer(cfg TracerConfig) *OtelTracer {
	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRatio >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRatio <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRatio)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
	otel.SetTracerProvider(provider)

	return &OtelTracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
}

// WithRunID attaches run_id to the context's OpenTelemetry baggage so every
// span started from ctx onward carries it, mirroring the teacher's
// AddCorrelationToBaggage helper but scoped to a plain context rather than
// an HTTP framework request.
func WithRunID(ctx context.Context, runID string) context.Context {
	member, err := baggage.NewMember("run_id", runID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// RunIDFromBaggage retrieves run_id previously attached via WithRunID.
func RunIDFromBaggage(ctx context.Context) string {
	return baggage.FromContext(ctx).Member("run_id").Value()
}

func (t *OtelTracer) StartSpan(ctx context.Context, stage string) (context.Context, func()) {
	spanCtx, span := t.tracer.Start(ctx, stage)
	return spanCtx, func() { span.End() }
}

// Shutdown flushes and stops the tracer provider.
func (t *OtelTracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability: shutdown tracer provider: %w", err)
	}
	return nil
}
