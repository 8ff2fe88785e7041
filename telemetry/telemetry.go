// Package telemetry exports pipeline trace records as OpenTelemetry spans.
package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentstation/brickflow"
)

// InstrumentationName names the tracer used by SpanSink.
const InstrumentationName = "github.com/agentstation/brickflow"

// Attribute keys set on every step span.
const (
	AttrRunID      = attribute.Key("brickflow.run_id")
	AttrInstanceID = attribute.Key("brickflow.instance_id")
	AttrBrickID    = attribute.Key("brickflow.brick_id")
	AttrLabel      = attribute.Key("brickflow.label")
	AttrVersion    = attribute.Key("brickflow.api_version")
	AttrSkipped    = attribute.Key("brickflow.skipped")
	AttrErrorName  = attribute.Key("brickflow.error.name")
)

// SpanSink turns each trace record into a span. Span timestamps are taken
// from the record, so spans reflect when the step actually ran.
type SpanSink struct {
	tracer trace.Tracer
}

var _ brickflow.TraceSink = (*SpanSink)(nil)

// NewSpanSink creates a sink using tp. A nil tp uses the global provider.
func NewSpanSink(tp trace.TracerProvider) *SpanSink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &SpanSink{tracer: tp.Tracer(InstrumentationName)}
}

// Record implements brickflow.TraceSink.
func (s *SpanSink) Record(ctx context.Context, rec brickflow.TraceRecord) error {
	attrs := []attribute.KeyValue{
		AttrRunID.String(rec.RunID),
		AttrInstanceID.String(rec.InstanceID),
		AttrBrickID.String(rec.BrickID),
		AttrVersion.String(string(rec.Version)),
		AttrSkipped.Bool(rec.Skipped),
	}
	if rec.Label != "" {
		attrs = append(attrs, AttrLabel.String(rec.Label))
	}

	_, span := s.tracer.Start(ctx, "brick "+rec.BrickID,
		trace.WithTimestamp(rec.Start),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if rec.Error != nil {
		span.SetAttributes(AttrErrorName.String(rec.Error.Name))
		span.RecordError(rec.Error, trace.WithTimestamp(rec.End))
		if rec.Error.Name != "CancelError" {
			span.SetStatus(codes.Error, rec.Error.Message)
		}
	} else if !rec.Skipped {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(rec.End))
	return nil
}

// StdoutProvider creates a tracer provider exporting to w (stdout when
// nil). The returned function flushes and stops the provider.
func StdoutProvider(w io.Writer, serviceName string, pretty bool) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}
