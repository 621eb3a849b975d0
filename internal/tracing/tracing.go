// Package tracing sets up optional OpenTelemetry span export over
// OTLP/gRPC and offers helpers for Supervisor lifecycle and monitor
// start/stop spans. cmd/logmonitor creates and shuts down the provider;
// no package calls the span helpers, so no spans are produced.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "logmonitor"
	serviceVersion = "1.0.0"
)

// Config holds tracing configuration.
type Config struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// Provider wraps the OpenTelemetry tracer provider. With Config.Enabled
// false it still returns a usable no-op tracer, so callers never need
// a nil check.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a tracing provider. When cfg.Enabled is false it
// installs nothing and uses the global otel tracer (a no-op unless a
// provider was installed elsewhere); when cfg.Endpoint is empty, spans
// are recorded in-process but not exported.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(serviceName)}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter *otlptrace.Exporter
	if cfg.Endpoint != "" {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

// Tracer returns the underlying tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes and shuts down the tracer provider, if one was created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// StartSupervisorSpan starts a span for a Supervisor lifecycle call
// (initialize, reload, shutdown).
func (p *Provider) StartSupervisorSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "supervisor."+operation)
}

// StartMonitorSpan starts a span for a monitor start/stop transition.
func (p *Provider) StartMonitorSpan(ctx context.Context, sourceKind, operation string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "monitor."+operation,
		trace.WithAttributes(attribute.String("source.kind", sourceKind)),
	)
}

// RecordError records err on the span if one is active in ctx.
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}
