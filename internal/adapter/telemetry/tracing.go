// Package telemetry sets up OpenTelemetry tracing for the binaries.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// LogSpanExporter writes finished spans to the structured log. Findings are
// low volume, so one log line per span is affordable and needs no collector.
type LogSpanExporter struct {
	logger *slog.Logger
}

func NewLogSpanExporter(logger *slog.Logger) *LogSpanExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanExporter{logger: logger}
}

// ExportSpans never fails; a span that cannot be logged is dropped.
func (e *LogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		args := []any{
			"span", span.Name(),
			"trace_id", span.SpanContext().TraceID().String(),
			"span_id", span.SpanContext().SpanID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		if span.Parent().IsValid() {
			args = append(args, "parent_id", span.Parent().SpanID().String())
		}
		for _, attr := range span.Attributes() {
			args = append(args, string(attr.Key), attr.Value.Emit())
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "🔭 span", slog.Group("trace", args...))
	}
	return nil
}

func (e *LogSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

// NewTracerProvider builds a provider tagged with the service name and
// registers it globally. Call Shutdown on exit to flush pending spans.
func NewTracerProvider(serviceName, version string, logger *slog.Logger) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogSpanExporter(logger)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp
}
