package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig controls whether and where spans are exported.
type TracingConfig struct {
	Enabled bool
	// Writer receives the stdout exporter's JSON span output. Defaults to
	// io.Discard when nil — the agent runs with tracing instrumented
	// either way, but only pays for serialization when a sink is wired.
	Writer io.Writer
}

// InitTracing installs a TracerProvider for the tick pipeline's spans and
// returns a shutdown function the caller must invoke on exit.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	sink := cfg.Writer
	if sink == nil {
		sink = io.Discard
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(sink),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: creating stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("gpu-observer"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the pipeline's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("gpu-observer/agent")
}

// StartSpan starts a span for one pipeline stage of a tick.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
