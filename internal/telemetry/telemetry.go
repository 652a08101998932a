// Package telemetry wires the process-wide OpenTelemetry tracer provider.
// The Connection Dispatcher (internal/gateway) only ever calls
// otel.Tracer(...) — this package is what makes those calls actually
// export somewhere when telemetry is enabled, and a harmless no-op
// provider when it isn't.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/relaytide/edgegateway/internal/config"
)

// ShutdownFunc flushes and closes the tracer provider. Safe to call even
// when telemetry was never enabled.
type ShutdownFunc func(context.Context) error

// Setup configures the global tracer provider from cfg.Telemetry. When
// telemetry is disabled, it leaves the global provider as it is (otel's
// default no-op provider unless one was installed elsewhere) and returns a
// no-op shutdown function, so dispatcher code can call
// otel.Tracer(...) unconditionally either way.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry: enabled but no endpoint configured")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "edgegateway"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
