package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Init mutates otel globals, so these tests are not parallel.

func TestInitRecordsSampledSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := Init(context.Background(), Options{
		Service:     "crawl-admission",
		Version:     "test",
		SampleRatio: 1,
		Exporters:   []sdktrace.SpanExporter{exporter},
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "work")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	// The in-memory exporter forgets its spans on Shutdown, so read first.
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "work", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInitRejectsBadRatio(t *testing.T) {
	_, err := Init(context.Background(), Options{Service: "x", SampleRatio: 2})
	require.ErrorContains(t, err, "sample ratio")
}

func TestExportersWithoutEndpoint(t *testing.T) {
	exporters, err := Exporters(context.Background(), OTLPOptions{})
	require.NoError(t, err)
	require.Empty(t, exporters)
}

func TestExportersOTLP(t *testing.T) {
	exporters, err := Exporters(context.Background(), OTLPOptions{Endpoint: "127.0.0.1:4317", Insecure: true})
	require.NoError(t, err)
	require.Len(t, exporters, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = exporters[0].Shutdown(ctx)
}
