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
	serviceName    = "convoy"
	serviceVersion = "0.2.0"
)

// Config holds tracing configuration
type Config struct {
	Enabled      bool
	Endpoint     string
	SampleRate   float64
	EnableStdout bool
}

// Provider wraps the OpenTelemetry tracer provider
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a new tracing provider
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: otel.Tracer(serviceName),
		}, nil
	}

	// Create resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create OTLP exporter
	var exporter *otlptrace.Exporter
	if cfg.Endpoint != "" {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(), // Use TLS in production
		)
		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	// Configure sampler
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create tracer provider
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(serviceName),
	}, nil
}

// Tracer returns the tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown shuts down the tracer provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// Helper functions for common operations

// TraceAddJob creates a span for an AddJob admission call.
func TraceAddJob(ctx context.Context, tracer trace.Tracer, queueName, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "queue.add_job",
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
			attribute.String("job.id", jobID),
		),
	)
}

// TraceDispatch creates a span for one dispatch-loop iteration that
// popped and reserved a job.
func TraceDispatch(ctx context.Context, tracer trace.Tracer, queueName, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "queue.dispatch",
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
			attribute.String("job.id", jobID),
		),
	)
}

// TraceHandler creates a span around a handler invocation for one job.
func TraceHandler(ctx context.Context, tracer trace.Tracer, queueName, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "queue.handle",
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
			attribute.String("job.id", jobID),
		),
	)
}

// TraceJamGuard creates a span for one ClearJammedJobs scan.
func TraceJamGuard(ctx context.Context, tracer trace.Tracer, queueName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "queue.jam_guard_scan",
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
		),
	)
}
