// Package telemetry initializes the OpenTelemetry trace exporter of the bridge.
//
// Bridge queries and HTTP requests create spans through the global tracer provider. Without
// an OTLP endpoint the provider stays the no-op default and spans cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/correlator-io/sdbridge/internal/config"
)

const batchTimeout = 5 * time.Second

type (
	// Config selects the OTLP/HTTP collector spans are exported to.
	Config struct {
		Endpoint string // host:port, empty disables export
		Insecure bool
	}

	// Shutdown flushes and stops the exporter.
	Shutdown func(ctx context.Context) error
)

// LoadConfig reads OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_INSECURE.
func LoadConfig() Config {
	return Config{
		Endpoint: config.GetEnvStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure: config.GetEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

// Init installs the global tracer provider and the W3C trace context propagator.
// The returned Shutdown must be called during graceful shutdown.
func Init(ctx context.Context, cfg Config, serviceName, version string) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
