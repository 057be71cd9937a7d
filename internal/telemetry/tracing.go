package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for exporter names other than stdout and none.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// ServiceName identifies this tool in exported spans.
const ServiceName = "resctl-bench"

// InitTracing installs a global TracerProvider for the named exporter.
// "none" (or "") leaves the no-op provider in place. The returned shutdown
// function flushes pending spans and must be called on exit.
func InitTracing(exporter string, w io.Writer) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var exp sdktrace.SpanExporter
	switch exporter {
	case "", "none":
		return noop, nil
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
