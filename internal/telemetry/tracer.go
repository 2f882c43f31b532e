// Package telemetry wires OpenTelemetry tracing for the admin service.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the resource name every span is reported under.
const ServiceName = "purrfect-admin"

// TracerProvider is the global tracer provider
var TracerProvider *sdktrace.TracerProvider

// InitTracer installs a global tracer provider that exports spans to w.
// Pass nil to export to stdout with pretty printing.
func InitTracer(serviceName string, w io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if w != nil {
		opts = []stdouttrace.Option{stdouttrace.WithWriter(w)}
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	TracerProvider = tp

	return tp, nil
}

// Tracer returns a named tracer from the global provider.
// Before InitTracer runs this is the no-op tracer, which keeps tests quiet.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(ServiceName + "/" + name)
}

// ShutdownTracer flushes and shuts down the tracer provider
func ShutdownTracer(ctx context.Context) {
	if TracerProvider != nil {
		if err := TracerProvider.Shutdown(ctx); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}
}
