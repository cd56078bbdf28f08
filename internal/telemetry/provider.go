// Package telemetry wires OpenTelemetry tracing for sottod: span export
// over OTLP/gRPC when enabled, a local stdout-discard tracer otherwise so
// every component can unconditionally start spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config mirrors config.TelemetryConfig without importing internal/config,
// keeping this package usable independently of config's shape.
type Config struct {
	Enable       bool
	OTLPEndpoint string
	ServiceName  string
}

// Init installs the global OTel tracer provider for cfg and returns a
// shutdown func that flushes and closes it. Call the returned func on
// daemon exit.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sottod"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("merge telemetry resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// newExporter dials the configured OTLP collector when telemetry is
// enabled, otherwise returns a stdout exporter writing to io.Discard so
// spans are still recorded (and SDK machinery exercised) without an
// outbound connection.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if !cfg.Enable {
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	}
	if cfg.OTLPEndpoint == "" {
		return nil, errors.New("telemetry enabled but otlp_endpoint is empty")
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
}
