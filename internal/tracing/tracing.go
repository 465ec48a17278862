// Package tracing provides optional, zero-overhead-when-unconfigured
// OpenTelemetry tracing for one turn's pipeline (spawn -> parse ->
// aggregate -> deliver): a tracer behind a sync.Once, falling back to the
// no-op provider unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
package tracing

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agentgate/agentgate"

var (
	once   sync.Once
	tracer trace.Tracer
)

// Tracer returns the process-wide tracer, initializing it on first use. If
// endpoint is empty (the common case), the global otel no-op provider is
// used and every span is free.
func Tracer(endpoint string) trace.Tracer {
	once.Do(func() {
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			tracer = otel.Tracer(instrumentationName)
			return
		}

		exporter, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint))
		if err != nil {
			tracer = otel.Tracer(instrumentationName)
			return
		}

		res, _ := resource.Merge(resource.Default(), resource.NewSchemaless(
			semconv.ServiceName("agentgate"),
		))
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		tracer = provider.Tracer(instrumentationName)
	})
	return tracer
}

// StartTurn opens the span tree for one turn's pipeline: spawn -> parse ->
// aggregate -> deliver. Callers create child spans for each stage with
// ctx returned here.
func StartTurn(ctx context.Context, endpoint, sessionID string) (context.Context, trace.Span) {
	return Tracer(endpoint).Start(ctx, "turn", trace.WithAttributes())
}
