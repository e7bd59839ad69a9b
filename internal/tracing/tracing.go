// Package tracing provides OpenTelemetry tracing helpers for the tile cache
// pipeline: enumerate, cull and download-attempt spans, tagged with the
// layer and the zoom, chunk size or HTTP attributes relevant to each.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName identifies this process in traces.
	ServiceName = "tilecache"
	// TracerName is the name registered with the global tracer provider.
	TracerName = "github.com/synmap/tilecache"
)

// Tracer is the package-wide tracer. Init replaces it with one backed by a
// real SpanProcessor; until Init runs it is the SDK's always-off-by-default
// provider's tracer, which records but drops spans.
var Tracer trace.Tracer = otel.Tracer(TracerName)

// Init installs a tracer provider that logs completed spans through slog
// instead of exporting over OTLP/gRPC: this is a single-binary, offline tool
// with no collector to ship spans to, so the span data is surfaced locally
// for debugging rather than dropped outright.
func Init(version string) (shutdown func(context.Context) error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		res = resource.Default()
	}

	processor := sdktrace.NewSimpleSpanProcessor(&slogExporter{logger: slog.Default()})
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
	)
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer(TracerName)

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}
}

// slogExporter implements sdktrace.SpanExporter by logging span summaries.
type slogExporter struct {
	logger *slog.Logger
}

func (e *slogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Debug("span",
			"name", s.Name(),
			"duration", s.EndTime().Sub(s.StartTime()),
			"status", s.Status().Code.String(),
		)
	}
	return nil
}

func (e *slogExporter) Shutdown(ctx context.Context) error { return nil }

// StartSpan starts a new span under the given name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, opts...)
}

// RecordError records an error on the span carried by ctx, if any.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if span != nil && span.IsRecording() {
		span.RecordError(err, opts...)
	}
}

// SetStatus sets the status of the span carried by ctx.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span != nil && span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// AddEvent adds a named event to the span carried by ctx.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if span != nil && span.IsRecording() {
		span.AddEvent(name, opts...)
	}
}

// SetAttributes sets attributes on the span carried by ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span != nil && span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// Elapsed is a small helper for recording a duration attribute at span end.
func Elapsed(start time.Time) attribute.KeyValue {
	return attribute.Int64("duration_ms", time.Since(start).Milliseconds())
}
