// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"lanrace/config"
)

// Shutdown flushes and stops the installed provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// NewProvider builds an SDK tracer provider for cfg that exports to w.
// It returns nil when tracing is disabled.
func NewProvider(cfg config.TracingConfig, w io.Writer) (*sdktrace.TracerProvider, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName))
	// spans are few and short-lived; export each one as it ends
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	), nil
}

// Setup installs the provider for cfg as the global tracer provider. With
// tracing disabled the global no-op provider is left in place.
func Setup(cfg config.TracingConfig, w io.Writer) (Shutdown, error) {
	tp, err := NewProvider(cfg, w)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		return noop, nil
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
