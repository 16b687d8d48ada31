// Package telemetry configures OpenTelemetry tracing for the service. Spans
// carry W3C trace context in and out of HTTP requests; metrics stay on the
// Prometheus registry in package metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options describe the tracer provider.
type Options struct {
	Service     string
	Version     string
	SampleRatio float64
	// Exporters receive finished spans in batches. With none, spans are
	// still created so trace ids propagate and appear in logs.
	Exporters []sdktrace.SpanExporter
}

// Init installs a global tracer provider and the W3C propagators. Callers
// Shutdown the returned provider to flush pending spans.
func Init(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	if opts.SampleRatio < 0 || opts.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio must be within [0,1], got %v", opts.SampleRatio)
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(opts.Service))}
	if opts.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	}
	for _, exp := range opts.Exporters {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
