// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "graphiti-browser"

// Config selects the OTLP exporter.
type Config struct {
	Endpoint    string            // host:port; empty disables export
	Protocol    string            // "grpc" (default) or "http"
	Insecure    bool              // plaintext, for local collectors
	ServiceName string            // default "graphiti-browser"
	Version     string            // reported as service.version
	Headers     map[string]string // extra exporter headers
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a batching tracer provider exporting to cfg.Endpoint. With
// no endpoint the global provider is left as the no-op default.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		slog.Debug("tracing: no endpoint configured, spans are discarded")
		return noop, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing: exporting spans", "endpoint", cfg.Endpoint, "protocol", protocolName(cfg.Protocol))

	return func(ctx context.Context) error {
		slog.Debug("tracing: shutting down")
		return tp.Shutdown(ctx)
	}, nil
}

func protocolName(p string) string {
	if p == "http" {
		return p
	}
	return "grpc"
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}
