package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// OTLPOptions point span export at an OTLP/gRPC collector.
type OTLPOptions struct {
	Endpoint string
	Insecure bool
}

// Exporters builds the span exporters for opts. An empty endpoint yields
// none. The gRPC connection is dialed lazily, so an unreachable collector
// does not block startup.
func Exporters(ctx context.Context, opts OTLPOptions) ([]sdktrace.SpanExporter, error) {
	if opts.Endpoint == "" {
		return nil, nil
	}
	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return []sdktrace.SpanExporter{exp}, nil
}
